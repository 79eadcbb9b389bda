package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/smartflix/engine/semantic"
)

// DefaultBatchSize is the number of vectors sent per upsert call.
const DefaultBatchSize = 100

// NATS subjects for ingestion progress events.
const (
	SubjectBatch = "smartflix.ingest.batch" // BatchEvent
	SubjectDone  = "smartflix.ingest.done"  // Report
)

// Embedder produces the vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index receives upserted vectors.
type Index interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Options tunes a run. The zero value is completed by DefaultOptions.
type Options struct {
	BatchSize       int     // vectors per upsert
	Workers         int     // concurrent embedding calls
	ContinueOnError bool    // collect embedding failures instead of aborting
	RatePerSecond   float64 // embedding calls per second, 0 = unlimited
}

// DefaultOptions returns sequential, fail-fast ingestion in batches of 100.
func DefaultOptions() Options {
	return Options{BatchSize: DefaultBatchSize, Workers: 1}
}

// Deps holds the external dependencies of a run.
type Deps struct {
	Embedder Embedder
	Index    Index
	Logger   *slog.Logger
	// OnBatch is called after every successful upsert.
	OnBatch func(ctx context.Context, ev BatchEvent)
}

// BatchEvent describes one flushed batch.
type BatchEvent struct {
	Batch    int `json:"batch"`
	Size     int `json:"size"`
	Upserted int `json:"upserted"` // cumulative
	Failed   int `json:"failed"`   // cumulative
	Total    int `json:"total"`
}

// Report summarises a run.
type Report struct {
	Total    int           `json:"total"`
	Upserted int           `json:"upserted"`
	Batches  int           `json:"batches"`
	Failed   []string      `json:"failed,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RecordError names the catalog record whose embedding failed.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("ingest: record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
