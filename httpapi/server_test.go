package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"xdao.co/cadstore/cidutil"
	"xdao.co/cadstore/dagstore"
	"xdao.co/cadstore/model"
	"xdao.co/cadstore/stats"
	"xdao.co/cadstore/storage/memstore"
)

const helloCID = "bafkreibm6jg3ux5qumhcn2b3flc3tyu6dmlb4xa7u5bf44yegnrjhc4yeq"

type fixture struct {
	srv   *Server
	store *dagstore.Store
	bs    *memstore.Store
}

func newFixture(t *testing.T, opts dagstore.Options) fixture {
	t.Helper()
	bs := memstore.New()
	collector := stats.New(5)
	opts.OnAdd = func(c cid.Cid) { collector.RecordCID(cidutil.String(c)) }
	store, err := dagstore.New(bs, opts)
	require.NoError(t, err)
	return fixture{
		srv:   New(store, Options{Stats: collector, BodyLimit: "1M"}),
		store: store,
		bs:    bs,
	}
}

func (f fixture) do(t *testing.T, method, path, contentType string, body []byte, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "healthy", decode[model.HealthResponse](t, rec).Status)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestAddTextAndCat(t *testing.T) {
	f := newFixture(t, dagstore.Options{})

	rec := f.do(t, http.MethodPost, "/api/v1/add/text", "application/json", []byte(`{"text":"hello"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, helloCID, decode[model.AddResponse](t, rec).CID)

	rec = f.do(t, http.MethodGet, "/api/v1/cat/"+helloCID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hello", rec.Body.String())
	require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	require.Equal(t, `"`+helloCID+`"`, rec.Header().Get("ETag"))
}

func TestAddJSON_Compacts(t *testing.T) {
	f := newFixture(t, dagstore.Options{})

	a := f.do(t, http.MethodPost, "/api/v1/add/json", "application/json", []byte(`{"data": {"a": 1,  "b": [1, 2]}}`))
	b := f.do(t, http.MethodPost, "/api/v1/add/json", "application/json", []byte(`{"data":{"a":1,"b":[1,2]}}`))
	require.Equal(t, http.StatusOK, a.Code, a.Body.String())
	require.Equal(t, decode[model.AddResponse](t, a).CID, decode[model.AddResponse](t, b).CID)

	rec := f.do(t, http.MethodGet, "/api/v1/cat/"+decode[model.AddResponse](t, a).CID, "", nil)
	require.Equal(t, `{"a":1,"b":[1,2]}`, rec.Body.String())
}

func TestAddBytesAndRange(t *testing.T) {
	f := newFixture(t, dagstore.Options{MaxChunkSize: 64, Fanout: 4})
	payload := bytes.Repeat([]byte("0123456789abcdef"), 100)

	rec := f.do(t, http.MethodPost, "/api/v1/add/bytes", "application/octet-stream", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decode[model.AddResponse](t, rec).CID

	rec = f.do(t, http.MethodGet, "/api/v1/cat/"+id, "", nil, "Range", "bytes=100-199")
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, payload[100:200], rec.Body.Bytes())
	require.Equal(t, "bytes 100-199/1600", rec.Header().Get("Content-Range"))

	rec = f.do(t, http.MethodGet, "/api/v1/stat/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[model.StatResponse](t, rec)
	require.Equal(t, uint64(len(payload)), st.Size)
	require.Equal(t, "dag-cbor", st.Codec)
	require.Equal(t, 3, st.Depth)
}

func TestAddFile(t *testing.T) {
	f := newFixture(t, dagstore.Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "greeting.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/api/v1/add/file", mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.AddResponse](t, rec)
	require.Equal(t, model.AddResponse{CID: helloCID, Name: "greeting.txt", Size: 5}, got)
}

func TestAdd_RejectsEmptyPayloads(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	tests := []struct {
		name, path, ct string
		body           []byte
	}{
		{"empty text", "/api/v1/add/text", "application/json", []byte(`{"text":""}`)},
		{"text not string", "/api/v1/add/text", "application/json", []byte(`{"text":42}`)},
		{"invalid json", "/api/v1/add/json", "application/json", []byte(`{"data":`)},
		{"missing data", "/api/v1/add/json", "application/json", []byte(`{"other":1}`)},
		{"empty bytes", "/api/v1/add/bytes", "application/octet-stream", nil},
		{"no file field", "/api/v1/add/file", "application/x-www-form-urlencoded", []byte("a=b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.ct, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			require.NotEmpty(t, decode[model.ErrorResponse](t, rec).Error)
		})
	}
	require.Equal(t, 0, f.bs.Len())
}

func TestCat_NotFoundAndInvalid(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	for _, id := range []string{"not-a-cid", cidutil.CIDv1RawSHA256([]byte("missing"))} {
		for _, path := range []string{"/api/v1/cat/", "/api/v1/stat/"} {
			rec := f.do(t, http.MethodGet, path+id, "", nil)
			require.Equal(t, http.StatusNotFound, rec.Code)
			require.Equal(t, msgNotFound, decode[model.ErrorResponse](t, rec).Error)
		}
	}
}

func TestCat_CorruptionIs500(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/add/text", "application/json", []byte(`{"text":"hello"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	key, err := cidutil.Digest([]byte("hello"), cidutil.HashSHA2_256)
	require.NoError(t, err)
	f.bs.Tamper(key, []byte("jello"))

	rec = f.do(t, http.MethodGet, "/api/v1/cat/"+helloCID, "", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "jello")
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	rec := f.do(t, http.MethodPost, "/api/v1/add/bytes", "application/octet-stream", make([]byte, 2<<20))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, uint64(1), f.srv.Stats().Snapshot().TotalRequests)
}

func TestCat_CorruptionAfterHeadersAbortsBody(t *testing.T) {
	f := newFixture(t, dagstore.Options{MaxChunkSize: 1024})
	data := make([]byte, 8*1024)
	for i := range data {
		data[i] = byte(i*7 + i/1024)
	}
	id, err := f.store.AddBytes(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	// Corrupt the fifth leaf; the first 4096 bytes stay intact.
	leaf := data[4096:5120]
	key, err := cidutil.Digest(leaf, cidutil.HashSHA2_256)
	require.NoError(t, err)
	f.bs.Tamper(key, bytes.Repeat([]byte{'x'}, len(leaf)))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/cat/" + cidutil.String(id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(len(data)), resp.ContentLength)

	body, err := io.ReadAll(resp.Body)
	require.Error(t, err, "a corrupted object must not end as a clean body")
	require.Less(t, len(body), len(data))
	require.Equal(t, data[:len(body)], body)
	require.NotContains(t, string(body), "xxxx")
}

func TestStats(t *testing.T) {
	f := newFixture(t, dagstore.Options{})
	for _, s := range []string{"a", "b", "c"} {
		rec := f.do(t, http.MethodPost, "/api/v1/add/text", "application/json", []byte(`{"text":"`+s+`"}`))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[model.StatsResponse](t, rec)
	require.Equal(t, uint64(4), snap.TotalRequests)
	require.Equal(t, []string{
		cidutil.CIDv1RawSHA256([]byte("c")),
		cidutil.CIDv1RawSHA256([]byte("b")),
		cidutil.CIDv1RawSHA256([]byte("a")),
	}, snap.RecentCIDs)
}
