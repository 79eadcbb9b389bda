package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/pkg/metrics"
	"github.com/WessleyAI/smartflix/pkg/ollama"
	"github.com/WessleyAI/smartflix/pkg/openai"
	"github.com/WessleyAI/smartflix/pkg/resilience"
)

func TestGuardedEmbedder_OpensAfterFailures(t *testing.T) {
	emb := &fakeEmbedder{err: domain.NewProviderError("openai", "embed", errors.New("503"))}
	up := newUpstreams(emb, "openai", &fakeIndex{}, metrics.New(), quietLogger())
	ctx := context.Background()

	threshold := resilience.DefaultBreakerOpts.FailThreshold
	for i := 0; i < threshold; i++ {
		up.embed.Embed(ctx, "x")
	}
	if emb.calls != threshold {
		t.Fatalf("expected %d upstream calls, got %d", threshold, emb.calls)
	}

	_, err := up.embed.Embed(ctx, "x")
	if emb.calls != threshold {
		t.Fatal("open breaker must not call upstream")
	}
	pe, ok := domain.AsProvider(err)
	if !ok || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ProviderError wrapping ErrCircuitOpen, got %v", err)
	}
	if pe.Detail() != "openai embed failed" {
		t.Fatalf("unexpected detail %q", pe.Detail())
	}
}

func TestGuardedIndex_NotFoundDoesNotTrip(t *testing.T) {
	idx := &fakeIndex{vectors: map[string][]float32{}}
	up := newUpstreams(&fakeEmbedder{}, "openai", idx, metrics.New(), quietLogger())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := up.index.Fetch(ctx, []string{"missing"}); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if up.index.breaker.State() != resilience.StateClosed {
		t.Fatalf("expected closed breaker, got %s", up.index.breaker.State())
	}
	if up.index.Collection() != "smartflix-test" {
		t.Fatal("collection not passed through")
	}
}

func TestIsProviderFailure(t *testing.T) {
	if isProviderFailure(errors.New("plain")) {
		t.Error("plain errors are not provider failures")
	}
	if !isProviderFailure(domain.NewProviderError("qdrant", "search", errors.New("x"))) {
		t.Error("provider errors count")
	}
	if isProviderFailure(domain.NewProviderError("qdrant", "search", context.Canceled)) {
		t.Error("caller cancellation does not count")
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := newEmbedder(Config{EmbedProvider: "openai", OpenAIKey: "sk-test", EmbedDims: 1024})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := e.(*openai.Embedder); !ok {
		t.Fatalf("expected *openai.Embedder, got %T", e)
	}

	e, err = newEmbedder(Config{EmbedProvider: "ollama", OllamaURL: "http://localhost:11434", EmbedDims: 768})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := e.(*ollama.EmbedClient); !ok {
		t.Fatalf("expected *ollama.EmbedClient, got %T", e)
	}

	if _, err := newEmbedder(Config{EmbedProvider: "cohere"}); err == nil {
		t.Fatal("expected unknown provider error")
	}
	if _, err := newEmbedder(Config{EmbedProvider: "openai", EmbedDims: 1024}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("EMBED_DIMS", "1536")
	t.Setenv("QDRANT_TLS", "true")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("RECOMMEND_DISPLAY_LIMIT", "notanumber")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := loadConfig()
	if cfg.Port != "3001" || cfg.EmbedDims != 1536 || !cfg.QdrantTLS {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.DisplayLimit != 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.Collection != "smartflix-movies" || cfg.CatalogPath != "data/movies.json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("") != slog.LevelInfo || parseLevel("WARN") != slog.LevelWarn || parseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unexpected level parsing")
	}
}
