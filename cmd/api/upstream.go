package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/semantic"
	"github.com/WessleyAI/smartflix/pkg/metrics"
	"github.com/WessleyAI/smartflix/pkg/ollama"
	"github.com/WessleyAI/smartflix/pkg/openai"
	"github.com/WessleyAI/smartflix/pkg/resilience"
)

const defaultOllamaModel = "nomic-embed-text"

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// vectorIndex is the part of semantic.VectorStore the API uses.
type vectorIndex interface {
	Fetch(ctx context.Context, ids []string) (map[string][]float32, error)
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Match, error)
	Count(ctx context.Context) (uint64, error)
	Collection() string
}

func newEmbedder(cfg Config) (embedder, error) {
	switch cfg.EmbedProvider {
	case "openai":
		return openai.NewEmbedder(openai.Config{APIKey: cfg.OpenAIKey, Model: cfg.EmbedModel, Dims: cfg.EmbedDims})
	case "ollama":
		model := cfg.EmbedModel
		if model == "" {
			model = defaultOllamaModel
		}
		return ollama.NewEmbedClient(cfg.OllamaURL, model, cfg.EmbedDims), nil
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}
}

// upstreams guards each provider with its own circuit breaker.
type upstreams struct {
	embed *guardedEmbedder
	index *guardedIndex
}

func newUpstreams(emb embedder, embedProvider string, idx vectorIndex, reg *metrics.Registry, logger *slog.Logger) upstreams {
	return upstreams{
		embed: &guardedEmbedder{
			next:  emb,
			guard: newGuard(embedProvider, reg, logger),
		},
		index: &guardedIndex{
			next:  idx,
			guard: newGuard("qdrant", reg, logger),
		},
	}
}

type guard struct {
	provider string
	breaker  *resilience.Breaker
	errs     *metrics.Counter
}

func newGuard(provider string, reg *metrics.Registry, logger *slog.Logger) guard {
	state := reg.Gauge("smartflix_breaker_state", "Circuit breaker state (0 closed, 1 open, 2 half-open)", "provider", provider)
	return guard{
		provider: provider,
		errs:     reg.Counter("smartflix_provider_errors_total", "Failed upstream provider calls", "provider", provider),
		breaker: resilience.NewBreaker(resilience.BreakerOpts{
			IsFailure: isProviderFailure,
			OnStateChange: func(from, to resilience.State) {
				state.Set(int64(to))
				logger.Warn("circuit breaker transition", "provider", provider, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func isProviderFailure(err error) bool {
	_, ok := domain.AsProvider(err)
	return ok && !errors.Is(err, context.Canceled)
}

// done classifies err after a guarded call. An open breaker becomes a
// ProviderError so that callers see a single failure kind.
func (g guard) done(op string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = domain.NewProviderError(g.provider, op, err)
	}
	if _, ok := domain.AsProvider(err); ok {
		g.errs.Inc()
	}
	return err
}

type guardedEmbedder struct {
	next embedder
	guard
}

func (g *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) ([]float32, error) {
		return g.next.Embed(ctx, text)
	})
	return v, g.done("embed", err)
}

type guardedIndex struct {
	next vectorIndex
	guard
}

func (g *guardedIndex) Fetch(ctx context.Context, ids []string) (map[string][]float32, error) {
	v, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) (map[string][]float32, error) {
		return g.next.Fetch(ctx, ids)
	})
	return v, g.done("fetch", err)
}

func (g *guardedIndex) Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Match, error) {
	v, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) ([]semantic.Match, error) {
		return g.next.Search(ctx, embedding, topK)
	})
	return v, g.done("search", err)
}

func (g *guardedIndex) Count(ctx context.Context) (uint64, error) {
	v, err := resilience.Do(ctx, g.breaker, g.next.Count)
	return v, g.done("count", err)
}

func (g *guardedIndex) Collection() string { return g.next.Collection() }
