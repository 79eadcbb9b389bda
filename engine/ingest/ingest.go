// Package ingest loads the catalog into the vector index: one embedding per
// movie, upserted in fixed-size batches. Runs are idempotent by movie id.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/semantic"
	"github.com/WessleyAI/smartflix/pkg/fn"
	"golang.org/x/time/rate"
)

// Orchestrator runs bulk ingestion.
type Orchestrator struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// New creates an Orchestrator. Zero option fields take their defaults.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Embedder == nil || deps.Index == nil {
		return nil, errors.New("ingest: embedder and index are required")
	}
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}

	o := &Orchestrator{deps: deps, opts: opts, log: deps.Logger}
	if o.log == nil {
		o.log = slog.Default()
	}
	if opts.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(1, opts.Workers))
	}
	return o, nil
}

// NewEmbed creates the stage that turns a movie into its index entry.
func (o *Orchestrator) NewEmbed() fn.Stage[domain.Movie, semantic.VectorRecord] {
	return fn.TracedStage[domain.Movie, semantic.VectorRecord]("ingest.embed", func(ctx context.Context, m domain.Movie) fn.Result[semantic.VectorRecord] {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return fn.Err[semantic.VectorRecord](err)
			}
		}
		vec, err := o.deps.Embedder.Embed(ctx, EmbedText(m))
		if err != nil {
			return fn.Err[semantic.VectorRecord](&RecordError{ID: m.ID, Err: err})
		}
		return fn.Ok(Record(m, vec))
	})
}

// Run embeds every movie and upserts exactly BatchSize entries per call,
// flushing the remainder at the end. Embedding failures abort the run unless
// ContinueOnError is set; upsert failures always abort.
func (o *Orchestrator) Run(ctx context.Context, movies []domain.Movie) (Report, error) {
	start := time.Now()
	report := Report{Total: len(movies)}

	// Fail-fast stops issuing embedding calls at the first failure; the
	// failure that triggered the cancel is the one reported.
	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		failOnce sync.Once
		failure  error
	)
	stage := o.NewEmbed()
	embed := func(ctx context.Context, m domain.Movie) fn.Result[semantic.VectorRecord] {
		r := stage(ctx, m)
		if r.IsErr() && !o.opts.ContinueOnError {
			failOnce.Do(func() {
				_, failure = r.Unwrap()
				cancel()
			})
		}
		return r
	}
	pending := make([]semantic.VectorRecord, 0, o.opts.BatchSize)

	flush := func(batch []semantic.VectorRecord) error {
		if err := o.deps.Index.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("ingest: upsert batch %d: %w", report.Batches+1, err)
		}
		report.Batches++
		report.Upserted += len(batch)
		ev := BatchEvent{
			Batch:    report.Batches,
			Size:     len(batch),
			Upserted: report.Upserted,
			Failed:   len(report.Failed),
			Total:    report.Total,
		}
		o.log.Info("ingest: batch upserted", "batch", ev.Batch, "size", ev.Size, "upserted", ev.Upserted, "total", ev.Total)
		if o.deps.OnBatch != nil {
			o.deps.OnBatch(ctx, ev)
		}
		return nil
	}

	finish := func(err error) (Report, error) {
		report.Duration = time.Since(start)
		return report, err
	}

	// Embedding works through windows of BatchSize records so that at most
	// one window of vectors is held besides the pending batch.
	for _, window := range fn.Chunk(movies, o.opts.BatchSize) {
		results := fn.ParMapResult[domain.Movie, semantic.VectorRecord](embedCtx, window, o.opts.Workers, embed)
		for i, r := range results {
			rec, err := r.Unwrap()
			if err != nil {
				if failure != nil {
					err = failure
				}
				var re *RecordError
				if !errors.As(err, &re) {
					re = &RecordError{ID: window[i].ID, Err: err}
				}
				if !o.opts.ContinueOnError || ctx.Err() != nil {
					return finish(re)
				}
				o.log.Warn("ingest: embedding failed, skipping", "id", re.ID, "error", re.Err)
				report.Failed = append(report.Failed, re.ID)
				continue
			}

			pending = append(pending, rec)
			if len(pending) == o.opts.BatchSize {
				if err := flush(pending); err != nil {
					return finish(err)
				}
				pending = make([]semantic.VectorRecord, 0, o.opts.BatchSize)
			}
		}
	}
	if len(pending) > 0 {
		if err := flush(pending); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}
