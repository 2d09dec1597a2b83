package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GenerationClient is the admin service's view of the chat model that consumes
// retrieval results. Only reachability is checked here.
type GenerationClient struct {
	client  *openai.Client
	baseURL string
	model   string
}

// NewGenerationClient returns nil when no API key is configured.
func NewGenerationClient(baseURL, apiKey, model string) *GenerationClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &GenerationClient{
		client:  newOpenAIClient(baseURL, apiKey),
		baseURL: baseURL,
		model:   model,
	}
}

func (c *GenerationClient) Model() string   { return c.model }
func (c *GenerationClient) BaseURL() string { return c.baseURL }

// Ping lists the provider's models and checks that the configured one exists.
func (c *GenerationClient) Ping(ctx context.Context) error {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models failed: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %s not offered by %s", c.model, c.baseURL)
}
