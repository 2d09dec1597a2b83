package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Providers commonly cap the number of inputs per /embeddings call.
const embeddingBatchSize = 64

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dim       int
	normalize bool
}

// NewOpenAIEmbedder embeds a probe string to verify the model and learn its
// dimension.
func NewOpenAIEmbedder(ctx context.Context, opts EmbedderOptions) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(opts.ModelName) == "" {
		return nil, fmt.Errorf("embedding model name is empty")
	}
	e := &OpenAIEmbedder{
		client:    newOpenAIClient(opts.BaseURL, opts.APIKey),
		model:     opts.ModelName,
		normalize: opts.Normalize,
	}
	probe, err := e.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return nil, err
	}
	if opts.Dimension > 0 && opts.Dimension != len(probe) {
		return nil, fmt.Errorf("model %s returns %d dimensions, configured %d", opts.ModelName, len(probe), opts.Dimension)
	}
	e.dim = len(probe)
	return e, nil
}

func newOpenAIClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += embeddingBatchSize {
		end := i + embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i := range resp.Data {
		vec := resp.Data[i].Embedding
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty embedding in response")
		}
		if e.dim > 0 && len(vec) != e.dim {
			return nil, fmt.Errorf("embedding dimension changed: want %d, got %d", e.dim, len(vec))
		}
		if e.normalize {
			normalizeL2(vec)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimension() int    { return e.dim }
func (e *OpenAIEmbedder) ModelName() string { return e.model }

func (e *OpenAIEmbedder) Ping(ctx context.Context) error {
	_, err := e.EmbedQuery(ctx, "ping")
	return err
}

func (e *OpenAIEmbedder) Close() error { return nil }
