// Package vectorindex stores chunk embeddings with their text and metadata and
// answers nearest-neighbour queries over them.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyFilter       = errors.New("delete filter matches nothing; use Clear to remove everything")
)

type Metadata struct {
	Source       string `json:"source"`
	Page         int    `json:"page"`
	DocumentType string `json:"document_type"`
	ChunkIndex   int    `json:"chunk_index"`
}

type Entry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Hit is a search result. Score is cosine similarity; Distance is 1 - Score.
type Hit struct {
	Entry
	Score    float32
	Distance float32
}

// Filter is a conjunction over metadata fields; empty fields are ignored.
type Filter struct {
	Source       string
	DocumentType string
}

func (f Filter) Empty() bool {
	return f.Source == "" && f.DocumentType == ""
}

func (f Filter) Match(m Metadata) bool {
	if f.Source != "" && f.Source != m.Source {
		return false
	}
	if f.DocumentType != "" && f.DocumentType != m.DocumentType {
		return false
	}
	return true
}

type SourceStat struct {
	Chunks       int    `json:"chunks"`
	DocumentType string `json:"document_type"`
}

// Index is implemented by every backend. Replace removes all entries of a
// source and inserts the new ones; backends make it atomic where they can.
// The dimension is fixed by the first write and forgotten whenever the index
// becomes empty, through Clear or by deleting the last chunk.
type Index interface {
	Replace(ctx context.Context, source string, entries []Entry) (int, error)
	Delete(ctx context.Context, filter Filter) (int, error)
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Sources(ctx context.Context) (map[string]SourceStat, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
	Dimension() int
	Backend() string
	Ping(ctx context.Context) error
	Close() error
}

// Sizer is implemented by backends that can report their on-disk size.
type Sizer interface {
	SizeBytes() int64
}

// ChunkID derives a stable UUID for the index-th chunk of source, so the same
// document always produces the same ids.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(index))).String()
}

func checkDimensions(dim int, entries []Entry) (int, error) {
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) == 0 || len(e.Vector) != dim {
			return dim, ErrDimensionMismatch
		}
	}
	return dim, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// rank scores candidates against vector and returns the best k.
func rank(vector []float32, candidates []Entry, k int) []Hit {
	hits := make([]Hit, 0, len(candidates))
	for _, e := range candidates {
		score := cosineSimilarity(vector, e.Vector)
		hits = append(hits, Hit{Entry: e, Score: score, Distance: 1 - score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
