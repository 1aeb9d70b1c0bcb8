// Package stats keeps process-local request counters for the REST facade.
package stats

import (
	"sync"
	"sync/atomic"
)

// DefaultRecent is the number of recently stored CIDs retained.
const DefaultRecent = 10

// Collector counts requests and remembers the most recently stored CIDs.
// It is safe for concurrent use. The zero value is not usable; call New.
type Collector struct {
	total atomic.Uint64

	mu     sync.Mutex
	recent []string
	next   int
	filled bool
}

// New returns a Collector retaining up to recent CIDs. recent <= 0 selects
// DefaultRecent.
func New(recent int) *Collector {
	if recent <= 0 {
		recent = DefaultRecent
	}
	return &Collector{recent: make([]string, recent)}
}

// IncRequest counts one handled request.
func (c *Collector) IncRequest() { c.total.Add(1) }

// RecordCID remembers a stored CID, evicting the oldest when full.
func (c *Collector) RecordCID(cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent[c.next] = cid
	c.next++
	if c.next == len(c.recent) {
		c.next = 0
		c.filled = true
	}
}

type Snapshot struct {
	TotalRequests uint64   `json:"total_requests"`
	RecentCIDs    []string `json:"recent_cids"`
}

// Snapshot returns the counters; RecentCIDs is newest first.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{TotalRequests: c.total.Load()}

	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	if c.filled {
		n = len(c.recent)
	}
	s.RecentCIDs = make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (c.next - 1 - i + len(c.recent)) % len(c.recent)
		s.RecentCIDs = append(s.RecentCIDs, c.recent[idx])
	}
	return s
}
