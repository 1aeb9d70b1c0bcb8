package model

// AddResponse is returned by every ingestion endpoint.
type AddResponse struct {
	CID string `json:"cid"`
	// Name and Size are set for multipart file uploads only.
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatResponse describes the DAG rooted at CID without its content.
type StatResponse struct {
	CID    string `json:"cid"`
	Codec  string `json:"codec"`
	Hash   string `json:"hash"`
	Size   uint64 `json:"size"`
	Links  int    `json:"links"`
	Blocks int    `json:"blocks"`
	Depth  int    `json:"depth"`
}

// StatsResponse is the process-level counters snapshot.
type StatsResponse struct {
	TotalRequests uint64   `json:"total_requests"`
	RecentCIDs    []string `json:"recent_cids"`
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
