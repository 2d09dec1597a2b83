package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of REST endpoints QdrantIndex uses.
type fakeQdrant struct {
	mu      sync.Mutex
	size    int
	exists  bool
	points  map[string]fakePoint
	apiKeys []string
}

func (f *fakeQdrant) matches(p fakePoint, filter map[string]any) bool {
	if filter == nil {
		return true
	}
	must, _ := filter["must"].([]any)
	for _, m := range must {
		cond := m.(map[string]any)
		want := cond["match"].(map[string]any)["value"]
		if p.Payload[cond["key"].(string)] != want {
			return false
		}
	}
	return true
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	write := func(v any) { _ = json.NewEncoder(w).Encode(map[string]any{"result": v}) }
	path := strings.TrimPrefix(r.URL.Path, "/collections/legal")

	switch {
	case r.URL.Path == "/collections":
		write(map[string]any{"collections": []any{}})
	case !f.exists && !(path == "" && r.Method == http.MethodPut):
		w.WriteHeader(http.StatusNotFound)
	case path == "" && r.Method == http.MethodGet:
		write(map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size}}}})
	case path == "" && r.Method == http.MethodPut:
		f.exists = true
		f.size = int(body["vectors"].(map[string]any)["size"].(float64))
		f.points = map[string]fakePoint{}
		write(true)
	case path == "" && r.Method == http.MethodDelete:
		f.exists = false
		f.points = nil
		write(true)
	case path == "/points/count":
		filter, _ := body["filter"].(map[string]any)
		n := 0
		for _, p := range f.points {
			if f.matches(p, filter) {
				n++
			}
		}
		write(map[string]any{"count": n})
	case path == "/points/delete":
		filter, _ := body["filter"].(map[string]any)
		for id, p := range f.points {
			if f.matches(p, filter) {
				delete(f.points, id)
			}
		}
		write(map[string]any{"status": "completed"})
	case path == "/points" && r.Method == http.MethodPut:
		raw, _ := json.Marshal(body["points"])
		var pts []fakePoint
		_ = json.Unmarshal(raw, &pts)
		for _, p := range pts {
			f.points[p.ID] = p
		}
		write(map[string]any{"status": "completed"})
	case path == "/points/search":
		raw, _ := json.Marshal(body["vector"])
		var query []float32
		_ = json.Unmarshal(raw, &query)
		var result []map[string]any
		for _, p := range f.points {
			result = append(result, map[string]any{
				"id": p.ID, "score": cosineSimilarity(query, p.Vector), "vector": p.Vector, "payload": p.Payload,
			})
		}
		write(result)
	case path == "/points/scroll":
		var points []map[string]any
		for _, p := range f.points {
			points = append(points, map[string]any{"id": p.ID, "payload": p.Payload})
		}
		write(map[string]any{"points": points, "next_page_offset": nil})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestQdrantIndexLifecycle(t *testing.T) {
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	idx, err := NewQdrant(ctx, QdrantConfig{URL: srv.URL + "/", APIKey: "secret", Collection: "legal"})
	require.NoError(t, err)
	assert.Zero(t, idx.Dimension())
	assert.Equal(t, "qdrant", idx.Backend())
	require.NoError(t, idx.Ping(ctx))

	hits, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	removed, err := idx.Replace(ctx, "data/ipc.pdf", entriesFor("data/ipc.pdf", "ipc", []float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 2, idx.Dimension())

	removed, err = idx.Replace(ctx, "data/ipc.pdf", entriesFor("data/ipc.pdf", "ipc", []float32{1, 0}))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = idx.Replace(ctx, "data/crpc.pdf", entriesFor("data/crpc.pdf", "crpc", []float32{0.5, 0.5}))
	require.NoError(t, err)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sources, err := idx.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceStat{Chunks: 1, DocumentType: "crpc"}, sources["data/crpc.pdf"])

	hits, err = idx.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "data/ipc.pdf", hits[0].Metadata.Source)
	assert.NotEmpty(t, hits[0].Vector)

	_, err = idx.Search(ctx, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	deleted, err := idx.Delete(ctx, Filter{DocumentType: "crpc"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	cleared, err := idx.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
	assert.Zero(t, idx.Dimension())

	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, key := range fake.apiKeys {
		assert.Equal(t, "secret", key)
	}
}

func TestQdrantIndexLoadsExistingDimension(t *testing.T) {
	fake := &fakeQdrant{exists: true, size: 384, points: map[string]fakePoint{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx, err := NewQdrant(context.Background(), QdrantConfig{URL: srv.URL, Collection: "legal"})
	require.NoError(t, err)
	assert.Equal(t, 384, idx.Dimension())
}

func TestQdrantIndexDropsEmptiedCollection(t *testing.T) {
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	idx, err := NewQdrant(ctx, QdrantConfig{URL: srv.URL, Collection: "legal"})
	require.NoError(t, err)

	_, err = idx.Replace(ctx, "data/a.txt", entriesFor("data/a.txt", "ipc", []float32{1, 0}))
	require.NoError(t, err)
	deleted, err := idx.Delete(ctx, Filter{Source: "data/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Zero(t, idx.Dimension())
	assert.False(t, fake.exists)

	_, err = idx.Replace(ctx, "data/b.txt", entriesFor("data/b.txt", "ipc", []float32{0, 0, 1}))
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Dimension())
	assert.Equal(t, 3, fake.size)
}
