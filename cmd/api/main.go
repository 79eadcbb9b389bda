// Package main implements the Smartflix API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/WessleyAI/smartflix/engine/catalog"
	"github.com/WessleyAI/smartflix/engine/ingest"
	"github.com/WessleyAI/smartflix/engine/recommend"
	"github.com/WessleyAI/smartflix/engine/semantic"
	"github.com/WessleyAI/smartflix/pkg/metrics"
	"github.com/WessleyAI/smartflix/pkg/mid"
	"github.com/WessleyAI/smartflix/pkg/natsutil"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	CatalogPath    string
	EmbedProvider  string
	OpenAIKey      string
	EmbedModel     string
	EmbedDims      int
	OllamaURL      string
	QdrantAddr     string
	QdrantAPIKey   string
	QdrantTLS      bool
	Collection     string
	CORSOrigin     string
	RequestTimeout time.Duration
	DisplayLimit   int
	NATSURL        string
	LogLevel       slog.Level
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "3001"),
		CatalogPath:    envOr("CATALOG_PATH", "data/movies.json"),
		EmbedProvider:  envOr("EMBED_PROVIDER", "openai"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		EmbedModel:     os.Getenv("EMBED_MODEL"),
		EmbedDims:      envInt("EMBED_DIMS", 1024),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		QdrantAddr:     envOr("QDRANT_ADDR", "localhost:6334"),
		QdrantAPIKey:   os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:      envBool("QDRANT_TLS"),
		Collection:     envOr("QDRANT_COLLECTION", "smartflix-movies"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 30*time.Second),
		DisplayLimit:   envInt("RECOMMEND_DISPLAY_LIMIT", 0),
		NATSURL:        os.Getenv("NATS_URL"),
		LogLevel:       parseLevel(os.Getenv("LOG_LEVEL")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func main() {
	// A missing .env is fine; the environment may be set another way.
	_ = godotenv.Load()
	cfg := loadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Catalog ---
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "movies", cat.Len())

	reg := metrics.New()
	reg.Gauge("smartflix_catalog_movies", "Movies in the loaded catalog").Set(int64(cat.Len()))

	// --- Providers ---
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	vectorStore, err := semantic.New(semantic.Config{
		Addr:       cfg.QdrantAddr,
		APIKey:     cfg.QdrantAPIKey,
		TLS:        cfg.QdrantTLS,
		Collection: cfg.Collection,
	})
	if err != nil {
		return err
	}
	defer vectorStore.Close()

	up := newUpstreams(embedder, cfg.EmbedProvider, vectorStore, reg, logger)
	svc := recommend.New(up.embed, up.index, cat, recommend.DefaultOptions(), logger)

	srv := newServer(cat, svc, up.index, reg, logger, cfg.DisplayLimit)

	// --- Ingest progress (optional) ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("smartflix-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		_, err = natsutil.Subscribe(nc, ingest.SubjectDone, func(_ context.Context, r ingest.Report) {
			srv.setLastIngest(r)
			logger.Info("ingest run reported", "upserted", r.Upserted, "failed", len(r.Failed))
		}, func(err error) { logger.Warn("ingest event dropped", "err", err) })
		if err != nil {
			return err
		}
	}

	// --- HTTP server ---
	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.Logger(logger, reg),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("smartflix-api"),
		mid.Timeout(cfg.RequestTimeout),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection, "embed_provider", cfg.EmbedProvider)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
