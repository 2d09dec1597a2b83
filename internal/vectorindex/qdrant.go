package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const qdrantUpsertBatch = 128

var errQdrantNotFound = errors.New("qdrant: not found")

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// QdrantIndex talks to a Qdrant server over its REST API. The collection is
// created with cosine distance on the first write and dropped by Clear.
// Replace is delete-then-upsert and is not atomic on this backend.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu  sync.RWMutex
	dim int
}

func NewQdrant(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	q := &QdrantIndex{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
	dim, err := q.collectionDimension(ctx)
	if err != nil {
		return nil, err
	}
	q.dim = dim
	return q, nil
}

func (q *QdrantIndex) collectionURL(suffix string) string {
	return q.url + "/collections/" + q.collection + suffix
}

func (q *QdrantIndex) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errQdrantNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (q *QdrantIndex) collectionDimension(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

func (q *QdrantIndex) createCollection(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	return q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil)
}

func qdrantFilter(f Filter) map[string]any {
	var must []map[string]any
	if f.Source != "" {
		must = append(must, map[string]any{"key": "source", "match": map[string]any{"value": f.Source}})
	}
	if f.DocumentType != "" {
		must = append(must, map[string]any{"key": "document_type", "match": map[string]any{"value": f.DocumentType}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (q *QdrantIndex) count(ctx context.Context, filter Filter) (int, error) {
	body := map[string]any{"exact": true}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/count"), body, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (q *QdrantIndex) deleteWhere(ctx context.Context, filter Filter) (int, error) {
	n, err := q.count(ctx, filter)
	if err != nil || n == 0 {
		return 0, err
	}
	body := map[string]any{"filter": qdrantFilter(filter)}
	if err := q.do(ctx, http.MethodPost, q.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *QdrantIndex) Replace(ctx context.Context, source string, entries []Entry) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dim, err := checkDimensions(q.dim, entries)
	if err != nil {
		return 0, fmt.Errorf("%w: index has %d", err, dim)
	}
	if q.dim == 0 && len(entries) > 0 {
		if err := q.createCollection(ctx, dim); err != nil {
			return 0, fmt.Errorf("create qdrant collection failed: %w", err)
		}
		q.dim = dim
	}

	removed, err := q.deleteWhere(ctx, Filter{Source: source})
	if err != nil {
		return 0, fmt.Errorf("delete old points failed: %w", err)
	}
	for start := 0; start < len(entries); start += qdrantUpsertBatch {
		end := min(start+qdrantUpsertBatch, len(entries))
		points := make([]map[string]any, 0, end-start)
		for _, e := range entries[start:end] {
			points = append(points, map[string]any{
				"id":     e.ID,
				"vector": e.Vector,
				"payload": map[string]any{
					"source":        source,
					"page":          e.Metadata.Page,
					"document_type": e.Metadata.DocumentType,
					"chunk_index":   e.Metadata.ChunkIndex,
					"text":          e.Text,
				},
			})
		}
		if err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
			return removed, fmt.Errorf("upsert points failed: %w", err)
		}
	}
	if len(entries) == 0 && removed > 0 {
		if err := q.dropIfEmpty(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, filter Filter) (int, error) {
	if filter.Empty() {
		return 0, ErrEmptyFilter
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n, err := q.deleteWhere(ctx, filter)
	if err != nil || n == 0 {
		return n, err
	}
	return n, q.dropIfEmpty(ctx)
}

// dropIfEmpty removes an empty collection so the next write recreates it
// with whatever dimension it brings. Callers hold q.mu.
func (q *QdrantIndex) dropIfEmpty(ctx context.Context) error {
	left, err := q.count(ctx, Filter{})
	if err != nil {
		return err
	}
	if left > 0 {
		return nil
	}
	err = q.do(ctx, http.MethodDelete, q.collectionURL(""), nil, nil)
	if err != nil && !errors.Is(err, errQdrantNotFound) {
		return fmt.Errorf("drop empty qdrant collection failed: %w", err)
	}
	q.dim = 0
	return nil
}

type qdrantPayload struct {
	Source       string `json:"source"`
	Page         int    `json:"page"`
	DocumentType string `json:"document_type"`
	ChunkIndex   int    `json:"chunk_index"`
	Text         string `json:"text"`
}

func (p qdrantPayload) metadata() Metadata {
	return Metadata{Source: p.Source, Page: p.Page, DocumentType: p.DocumentType, ChunkIndex: p.ChunkIndex}
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	q.mu.RLock()
	dim := q.dim
	q.mu.RUnlock()
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(vector), dim)
	}
	if k <= 0 {
		k = 4
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []struct {
			ID      string        `json:"id"`
			Score   float32       `json:"score"`
			Vector  []float32     `json:"vector"`
			Payload qdrantPayload `json:"payload"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), body, &resp)
	if errors.Is(err, errQdrantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			Entry: Entry{
				ID:       r.ID,
				Vector:   r.Vector,
				Text:     r.Payload.Text,
				Metadata: r.Payload.metadata(),
			},
			Score:    r.Score,
			Distance: 1 - r.Score,
		})
	}
	return hits, nil
}

func (q *QdrantIndex) Sources(ctx context.Context) (map[string]SourceStat, error) {
	out := make(map[string]SourceStat)
	var offset any
	for {
		body := map[string]any{
			"limit":        256,
			"with_payload": []string{"source", "document_type"},
			"with_vector":  false,
		}
		if offset != nil {
			body["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload qdrantPayload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := q.do(ctx, http.MethodPost, q.collectionURL("/points/scroll"), body, &resp)
		if errors.Is(err, errQdrantNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			stat := out[p.Payload.Source]
			stat.Chunks++
			stat.DocumentType = p.Payload.DocumentType
			out[p.Payload.Source] = stat
		}
		if resp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	return q.count(ctx, Filter{})
}

func (q *QdrantIndex) Clear(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := q.count(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	err = q.do(ctx, http.MethodDelete, q.collectionURL(""), nil, nil)
	if err != nil && !errors.Is(err, errQdrantNotFound) {
		return 0, fmt.Errorf("drop qdrant collection failed: %w", err)
	}
	q.dim = 0
	return n, nil
}

func (q *QdrantIndex) Dimension() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dim
}

func (q *QdrantIndex) Backend() string { return "qdrant" }

func (q *QdrantIndex) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, q.url+"/collections", nil, nil)
}

func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
