package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
)

// ErrModelLoad wraps every failure to construct an embedder.
var ErrModelLoad = errors.New("embedding model load failed")

// Embedder maps text to fixed-dimension vectors. Implementations are safe for
// concurrent use.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
	Ping(ctx context.Context) error
	Close() error
}

// EmbedderOptions is everything needed to build an embedder of any provider.
type EmbedderOptions struct {
	Provider  string
	ModelName string
	Device    string
	Normalize bool
	Dimension int

	BaseURL string
	APIKey  string

	ONNXModelPath string
	ONNXVocabPath string
	ONNXLibPath   string
	MaxSeqLength  int
}

// NewEmbedder builds and warms up the embedder described by opts.
func NewEmbedder(ctx context.Context, opts EmbedderOptions) (Embedder, error) {
	var (
		emb Embedder
		err error
	)
	switch opts.Provider {
	case ProviderHash, "":
		emb, err = NewHashEmbedder(opts.ModelName, opts.Dimension, opts.Normalize)
	case ProviderOpenAI:
		emb, err = NewOpenAIEmbedder(ctx, opts)
	case ProviderONNX:
		emb, err = NewONNXEmbedder(opts)
	default:
		err = fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	return emb, nil
}

func normalizeL2(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
