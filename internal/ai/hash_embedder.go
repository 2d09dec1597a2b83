package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashEmbedder is a deterministic feature-hashing embedder. It needs no model
// files or network and is the default for local development and tests.
// Unigrams and bigrams are hashed into signed buckets; the model name seeds
// the hash so two model names never share a vector space.
type HashEmbedder struct {
	model     string
	dim       int
	normalize bool
}

func NewHashEmbedder(model string, dim int, normalize bool) (*HashEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hash embedder needs a positive dimension, got %d", dim)
	}
	return &HashEmbedder{model: model, dim: dim, normalize: normalize}, nil
}

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) Dimension() int    { return e.dim }
func (e *HashEmbedder) ModelName() string { return e.model }

func (e *HashEmbedder) Ping(context.Context) error { return nil }
func (e *HashEmbedder) Close() error               { return nil }

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, tok := range tokens {
		e.add(vec, tok, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}
	if e.normalize {
		normalizeL2(vec)
	}
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(e.model + "\x00" + feature)
	idx := int(h % uint64(e.dim))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
