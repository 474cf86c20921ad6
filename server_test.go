package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	cachepolicy "github.com/always-cache/record-resolver/pkg/cache-policy"
	"github.com/always-cache/record-resolver/pkg/etag"
	"github.com/always-cache/record-resolver/record"
	"github.com/always-cache/record-resolver/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	modified       = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	modifiedHeader = "Mon, 01 Jan 2024 00:00:00 GMT"
)

var testConfig = Config{
	Collections: []CollectionConfig{
		{Name: "notes", UpdatedAtField: "updated_at", OwnerField: "owner", DeletedAtField: "deleted_at", Etag: store.EtagGenerated},
		{Name: "pages", UpdatedAtField: "updated_at", Public: true, Etag: store.EtagStored, Weak: true},
		{Name: "plain", UpdatedAtField: "updated_at", Public: true},
	},
	Rules: cachepolicy.Rules{
		{Method: "PUT", Override: "no-store"},
		{Prefix: "/pages/", Default: "public, max-age=60"},
		{Default: "private, no-cache"},
	},
}

func newTestServer(t *testing.T) *Server {
	config := testConfig.WithDefaults()
	require.NoError(t, config.Validate())
	records := store.NewMemStore(config.Schemas())
	ctx := context.Background()
	for collection, rows := range map[string][]store.Row{
		"notes": {
			{ID: "1", Fields: map[string]any{"title": "hello", "owner": "alice", "updated_at": modified}},
			{ID: "gone", Fields: map[string]any{"owner": "alice", "deleted_at": modified}},
		},
		"pages": {{ID: "home", Fields: map[string]any{"title": "Home", "updated_at": modified}}},
		"plain": {{ID: "1", Fields: map[string]any{"updated_at": "2024-01-01T00:00:00Z"}}},
	} {
		for _, row := range rows {
			_, err := records.Put(ctx, collection, row)
			require.NoError(t, err)
		}
	}
	return newServerWithStore(config, records)
}

func newServerWithStore(config Config, records store.Store) *Server {
	nop := zerolog.Nop()
	s := NewServer(config, records, &nop)
	s.now = func() time.Time { return modified }
	return s
}

func do(s http.Handler, method, target, user string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decodeDocument(t *testing.T, rr *httptest.ResponseRecorder) document {
	var doc document
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&doc))
	return doc
}

func TestGetRecord(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "GET", "/notes/1", "alice", nil, "")

	require.Equal(t, http.StatusOK, rr.Code)
	tag, err := etag.Parse(rr.Header().Get("ETag"))
	require.NoError(t, err)
	assert.False(t, tag.Weak)
	assert.Equal(t, modifiedHeader, rr.Header().Get("Last-Modified"))
	assert.Equal(t, "private, no-cache", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	doc := decodeDocument(t, rr)
	assert.Equal(t, "1", doc.ID)
	assert.Equal(t, "hello", doc.Fields["title"])
}

func TestGetRecordIsStable(t *testing.T) {
	s := newTestServer(t)
	first := do(s, "GET", "/notes/1", "alice", nil, "")
	second := do(s, "GET", "/notes/1", "alice", nil, "")
	assert.Equal(t, first.Header().Get("ETag"), second.Header().Get("ETag"))
}

func TestGetRecordNotModified(t *testing.T) {
	s := newTestServer(t)
	tag := do(s, "GET", "/notes/1", "alice", nil, "").Header().Get("ETag")

	rr := do(s, "GET", "/notes/1", "alice", map[string]string{"If-None-Match": tag}, "")
	assert.Equal(t, http.StatusNotModified, rr.Code)
	assert.Empty(t, rr.Body.String())
	assert.Equal(t, tag, rr.Header().Get("ETag"))
	assert.Equal(t, "private, no-cache", rr.Header().Get("Cache-Control"))

	rr = do(s, "GET", "/notes/1", "alice", map[string]string{"If-Modified-Since": modifiedHeader}, "")
	assert.Equal(t, http.StatusNotModified, rr.Code)

	rr = do(s, "GET", "/notes/1", "alice", map[string]string{"If-None-Match": `"other"`}, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetRecordIfMatchFailed(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "GET", "/notes/1", "alice", map[string]string{"If-Match": `"other"`}, "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestHeadRecord(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "HEAD", "/notes/1", "alice", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("ETag"))
	assert.NotEqual(t, "0", rr.Header().Get("Content-Length"))
	assert.Empty(t, rr.Body.String())
}

func TestGetRecordAccess(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusForbidden, do(s, "GET", "/notes/1", "bob", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, "GET", "/notes/1", "", nil, "").Code)
}

func TestGetRecordNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(s, "GET", "/notes/missing", "alice", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, "GET", "/unknown/1", "alice", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, "GET", "/notes/gone", "alice", nil, "").Code)
}

func TestGetPublicRecordWithWeakEtag(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "GET", "/pages/home", "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	tag, err := etag.Parse(rr.Header().Get("ETag"))
	require.NoError(t, err)
	assert.True(t, tag.Weak)
	assert.Equal(t, "public, max-age=60", rr.Header().Get("Cache-Control"))

	// weak comparison also matches the strong form
	rr = do(s, "GET", "/pages/home", "", map[string]string{"If-None-Match": etag.Strong(tag.Opaque).String()}, "")
	assert.Equal(t, http.StatusNotModified, rr.Code)
}

func TestGetRecordWithoutEtag(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "GET", "/plain/1", "", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("ETag"))
	assert.Equal(t, modifiedHeader, rr.Header().Get("Last-Modified"))
}

func TestPutRecord(t *testing.T) {
	s := newTestServer(t)
	tag := do(s, "GET", "/notes/1", "alice", nil, "").Header().Get("ETag")

	rr := do(s, "PUT", "/notes/1", "alice", map[string]string{"If-Match": tag}, `{"title": "changed"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	newTag := rr.Header().Get("ETag")
	assert.NotEmpty(t, newTag)
	assert.NotEqual(t, tag, newTag)
	doc := decodeDocument(t, rr)
	assert.Equal(t, "changed", doc.Fields["title"])
	assert.Equal(t, "alice", doc.Fields["owner"])

	// lost update is prevented
	rr = do(s, "PUT", "/notes/1", "alice", map[string]string{"If-Match": tag}, `{"title": "again"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.Equal(t, newTag, rr.Header().Get("ETag"))

	rr = do(s, "GET", "/notes/1", "alice", nil, "")
	assert.Equal(t, "changed", decodeDocument(t, rr).Fields["title"])
}

func TestConcurrentPutsWithSameIfMatch(t *testing.T) {
	s := newTestServer(t)
	tag := do(s, "GET", "/notes/1", "alice", nil, "").Header().Get("ETag")

	const writers = 10
	codes := make(chan int, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"title": "writer %d"}`, i)
			codes <- do(s, "PUT", "/notes/1", "alice", map[string]string{"If-Match": tag}, body).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	assert.Equal(t, map[int]int{
		http.StatusOK:                 1,
		http.StatusPreconditionFailed: writers - 1,
	}, counts)
}

func TestDeleteWithTagReplacedByPut(t *testing.T) {
	s := newTestServer(t)
	tag := do(s, "GET", "/notes/1", "alice", nil, "").Header().Get("ETag")
	require.Equal(t, http.StatusOK, do(s, "PUT", "/notes/1", "alice", map[string]string{"If-Match": tag}, `{"title": "x"}`).Code)

	rr := do(s, "DELETE", "/notes/1", "alice", map[string]string{"If-Match": tag}, "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
	assert.NotEqual(t, tag, rr.Header().Get("ETag"))
	assert.Equal(t, http.StatusOK, do(s, "GET", "/notes/1", "alice", nil, "").Code)
}

func TestWriteResponsesApplyCachePolicy(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "PUT", "/notes/1", "alice", nil, `{"title": "x"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	// only 200 and 304 responses are touched
	rr = do(s, "POST", "/notes", "alice", nil, `{"title": "y"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Empty(t, rr.Header().Get("Cache-Control"))
}

func TestPutRecordIfNoneMatchStar(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "PUT", "/notes/1", "alice", map[string]string{"If-None-Match": "*"}, `{"title": "x"}`)
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)
}

func TestPutRecordErrors(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusForbidden, do(s, "PUT", "/notes/1", "bob", nil, `{"title": "x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(s, "PUT", "/notes/missing", "alice", nil, `{"title": "x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, "PUT", "/notes/1", "alice", nil, `{"title":`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, "PUT", "/notes/1", "alice", nil, `null`).Code)
	// public collections are only public for reading
	assert.Equal(t, http.StatusUnauthorized, do(s, "PUT", "/pages/home", "", nil, `{"title": "x"}`).Code)
}

func TestCreateRecord(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "POST", "/notes", "bob", nil, `{"title": "new"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	location := rr.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "/notes/"))
	assert.NotEmpty(t, rr.Header().Get("ETag"))
	assert.Equal(t, modifiedHeader, rr.Header().Get("Last-Modified"))

	rr = do(s, "GET", location, "bob", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	doc := decodeDocument(t, rr)
	assert.Equal(t, "new", doc.Fields["title"])
	assert.Equal(t, "bob", doc.Fields["owner"])

	assert.Equal(t, http.StatusForbidden, do(s, "GET", location, "alice", nil, "").Code)
}

func TestCreateRecordErrors(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, do(s, "POST", "/notes", "", nil, `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(s, "POST", "/unknown", "bob", nil, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, "POST", "/notes", "bob", nil, `[]`).Code)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestServer(t)
	rr := do(s, "DELETE", "/notes/1", "alice", map[string]string{"If-Match": `"stale"`}, "")
	assert.Equal(t, http.StatusPreconditionFailed, rr.Code)

	rr = do(s, "DELETE", "/notes/1", "bob", nil, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(s, "DELETE", "/notes/1", "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, http.StatusNotFound, do(s, "GET", "/notes/1", "alice", nil, "").Code)
}

// brokenStore returns records whose entity tags cannot be generated.
type brokenStore struct {
	store.Store
}

func (brokenStore) Find(ctx context.Context, collection, id string) (record.Record, error) {
	return store.HashedRow{Row: store.Row{
		Collection: collection,
		ID:         id,
		Fields:     map[string]any{"owner": "alice", "ch": make(chan int)},
	}}, nil
}

func TestEtagGenerationFailure(t *testing.T) {
	s := newServerWithStore(testConfig, brokenStore{})
	rr := do(s, "GET", "/notes/1", "alice", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, rr.Header().Get("ETag"))
}

func TestAuthorize(t *testing.T) {
	rec := store.Row{Fields: map[string]any{"owner": "alice", "count": 1}}
	private := CollectionConfig{OwnerField: "owner"}
	public := CollectionConfig{Public: true}
	wrongType := CollectionConfig{OwnerField: "count"}

	assert.True(t, authorize(private, "alice", rec, false))
	assert.True(t, authorize(private, "alice", rec, true))
	assert.False(t, authorize(private, "bob", rec, false))
	assert.False(t, authorize(private, "", rec, false))
	assert.True(t, authorize(public, "", rec, false))
	assert.False(t, authorize(public, "", rec, true))
	assert.True(t, authorize(public, "bob", rec, true))
	assert.False(t, authorize(wrongType, "1", rec, false))
}

func TestIsDeleted(t *testing.T) {
	col := CollectionConfig{DeletedAtField: "deleted_at"}
	assert.False(t, isDeleted(col, store.Row{Fields: map[string]any{}}))
	assert.False(t, isDeleted(col, store.Row{Fields: map[string]any{"deleted_at": nil}}))
	assert.False(t, isDeleted(col, store.Row{Fields: map[string]any{"deleted_at": ""}}))
	assert.False(t, isDeleted(col, store.Row{Fields: map[string]any{"deleted_at": false}}))
	assert.True(t, isDeleted(col, store.Row{Fields: map[string]any{"deleted_at": true}}))
	assert.True(t, isDeleted(col, store.Row{Fields: map[string]any{"deleted_at": modified}}))
	assert.False(t, isDeleted(CollectionConfig{}, store.Row{Fields: map[string]any{"deleted_at": true}}))
}
