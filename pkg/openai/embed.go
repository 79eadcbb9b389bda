// Package openai provides an OpenAI-backed embedding client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/WessleyAI/smartflix/engine/domain"
	goopenai "github.com/sashabaranov/go-openai"
)

const provider = "openai"

// DefaultModel is used when no model is configured.
const DefaultModel = string(goopenai.SmallEmbedding3)

// Config configures an Embedder. BaseURL is optional and overrides the API
// endpoint (proxies, tests).
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Dims    int
}

// Embedder turns text into a fixed-length vector via the OpenAI embeddings API.
type Embedder struct {
	client *goopenai.Client
	model  string
	dims   int
}

// NewEmbedder creates an Embedder. Dims must be positive.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Dims <= 0 {
		return nil, fmt.Errorf("openai: invalid dimensionality %d", cfg.Dims)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Embedder{
		client: goopenai.NewClientWithConfig(oc),
		model:  cfg.Model,
		dims:   cfg.Dims,
	}, nil
}

// Dims returns the configured dimensionality.
func (e *Embedder) Dims() int { return e.dims }

// Embed returns the embedding of text. A vector whose length differs from the
// configured dimensionality is an error.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.model),
	}
	// Only the v3 models accept a dimensions parameter.
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dims
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, domain.NewProviderError(provider, "embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.NewProviderError(provider, "embed", errors.New("empty response"))
	}

	vec := resp.Data[0].Embedding
	if len(vec) != e.dims {
		return nil, domain.NewProviderError(provider, "embed",
			fmt.Errorf("%w: got %d, want %d", domain.ErrDimension, len(vec), e.dims))
	}
	return vec, nil
}
