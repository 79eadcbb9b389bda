// Command ingest embeds every catalog movie and upserts the vectors into Qdrant.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/WessleyAI/smartflix/engine/catalog"
	"github.com/WessleyAI/smartflix/engine/ingest"
	"github.com/WessleyAI/smartflix/engine/semantic"
	"github.com/WessleyAI/smartflix/pkg/metrics"
	"github.com/WessleyAI/smartflix/pkg/natsutil"
	"github.com/WessleyAI/smartflix/pkg/ollama"
	"github.com/WessleyAI/smartflix/pkg/openai"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
)

const defaultOllamaModel = "nomic-embed-text"

type options struct {
	catalogPath     string
	provider        string
	model           string
	openaiKey       string
	ollamaURL       string
	dims            int
	qdrantAddr      string
	qdrantAPIKey    string
	qdrantTLS       bool
	collection      string
	batch           int
	workers         int
	rate            float64
	continueOnError bool
	natsURL         string
	metricsAddr     string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.catalogPath, "catalog", envOr("CATALOG_PATH", "data/movies.json"), "catalog JSON snapshot")
	fs.StringVar(&o.provider, "provider", envOr("EMBED_PROVIDER", "openai"), "embedding provider: openai or ollama")
	fs.StringVar(&o.model, "model", os.Getenv("EMBED_MODEL"), "embedding model (provider default when empty)")
	fs.StringVar(&o.ollamaURL, "ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
	fs.IntVar(&o.dims, "dims", envInt("EMBED_DIMS", 1024), "vector dimensionality")
	fs.StringVar(&o.qdrantAddr, "qdrant", envOr("QDRANT_ADDR", "localhost:6334"), "Qdrant gRPC address")
	fs.StringVar(&o.collection, "collection", envOr("QDRANT_COLLECTION", "smartflix-movies"), "Qdrant collection")
	fs.IntVar(&o.batch, "batch", ingest.DefaultBatchSize, "vectors per upsert")
	fs.IntVar(&o.workers, "workers", 1, "concurrent embedding calls")
	fs.Float64Var(&o.rate, "rate", 0, "embedding calls per second (0 = unlimited)")
	fs.BoolVar(&o.continueOnError, "continue-on-error", false, "skip movies whose embedding fails")
	fs.StringVar(&o.natsURL, "nats", os.Getenv("NATS_URL"), "NATS URL for progress events (optional)")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve /metrics on this address while running (optional)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	o.openaiKey = os.Getenv("OPENAI_API_KEY")
	o.qdrantAPIKey = os.Getenv("QDRANT_API_KEY")
	o.qdrantTLS, _ = strconv.ParseBool(os.Getenv("QDRANT_TLS"))

	if o.batch <= 0 || o.workers <= 0 || o.dims <= 0 {
		return o, fmt.Errorf("-batch, -workers and -dims must be positive")
	}
	return o, nil
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

func newEmbedder(o options) (ingest.Embedder, error) {
	switch o.provider {
	case "openai":
		return openai.NewEmbedder(openai.Config{APIKey: o.openaiKey, Model: o.model, Dims: o.dims})
	case "ollama":
		model := o.model
		if model == "" {
			model = defaultOllamaModel
		}
		return ollama.NewEmbedClient(o.ollamaURL, model, o.dims), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", o.provider)
	}
}

// progress fans batch events out to the log, metrics and, when connected, NATS.
type progress struct {
	logger   *slog.Logger
	nc       *nats.Conn
	batches  *metrics.Counter
	upserted *metrics.Counter
	failed   *metrics.Gauge
}

func newProgress(reg *metrics.Registry, nc *nats.Conn, logger *slog.Logger) *progress {
	return &progress{
		logger:   logger,
		nc:       nc,
		batches:  reg.Counter("smartflix_ingest_batches_total", "Upserted batches"),
		upserted: reg.Counter("smartflix_ingest_vectors_total", "Upserted vectors"),
		failed:   reg.Gauge("smartflix_ingest_failed", "Movies skipped after an embedding failure"),
	}
}

func (p *progress) onBatch(ctx context.Context, ev ingest.BatchEvent) {
	p.batches.Inc()
	p.upserted.Add(int64(ev.Size))
	p.failed.Set(int64(ev.Failed))
	p.logger.Debug("ingest progress", "batch", ev.Batch, "size", ev.Size, "upserted", ev.Upserted, "total", ev.Total)
	if p.nc == nil {
		return
	}
	if err := natsutil.Publish(ctx, p.nc, ingest.SubjectBatch, ev); err != nil {
		p.logger.Warn("publish batch event", "error", err)
	}
}

func (p *progress) done(ctx context.Context, r ingest.Report) {
	if p.nc == nil {
		return
	}
	if err := natsutil.Publish(ctx, p.nc, ingest.SubjectDone, r); err != nil {
		p.logger.Warn("publish ingest report", "error", err)
		return
	}
	if err := p.nc.Flush(); err != nil {
		p.logger.Warn("flush nats", "error", err)
	}
}

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger *slog.Logger) error {
	cat, err := catalog.Load(o.catalogPath)
	if err != nil {
		return err
	}
	logger.Info("catalog loaded", "path", o.catalogPath, "movies", cat.Len())

	emb, err := newEmbedder(o)
	if err != nil {
		return err
	}

	store, err := semantic.New(semantic.Config{
		Addr:       o.qdrantAddr,
		APIKey:     o.qdrantAPIKey,
		TLS:        o.qdrantTLS,
		Collection: o.collection,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureCollection(ctx, o.dims); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	reg := metrics.New()
	if o.metricsAddr != "" {
		go func() {
			if err := reg.ListenAndServe(ctx, o.metricsAddr); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	var nc *nats.Conn
	if o.natsURL != "" {
		nc, err = nats.Connect(o.natsURL, nats.Name("smartflix-ingest"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}
	prog := newProgress(reg, nc, logger)

	orch, err := ingest.New(ingest.Deps{
		Embedder: emb,
		Index:    store,
		Logger:   logger,
		OnBatch:  prog.onBatch,
	}, ingest.Options{
		BatchSize:       o.batch,
		Workers:         o.workers,
		ContinueOnError: o.continueOnError,
		RatePerSecond:   o.rate,
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, cat.All())
	if err != nil {
		return err
	}
	prog.done(ctx, report)

	logger.Info("ingest complete",
		"collection", store.Collection(),
		"upserted", report.Upserted,
		"batches", report.Batches,
		"failed", len(report.Failed),
		"duration", report.Duration.String(),
	)
	return nil
}
