package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/semantic"
)

func movieID(i int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", i)
}

func testMovies(n int) []domain.Movie {
	out := make([]domain.Movie, n)
	for i := range out {
		out[i] = domain.Movie{ID: movieID(i), Title: fmt.Sprintf("Movie %d", i), Description: "A film."}
	}
	return out
}

// mockEmbedder returns a 4-dim vector per text and fails for texts in failOn.
type mockEmbedder struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.failOn[text] {
		return nil, domain.NewProviderError("openai", "embed", errors.New("rate limited"))
	}
	return []float32{0.1, 0.2, 0.3, float32(len(text))}, nil
}

type mockIndex struct {
	mu      sync.Mutex
	batches [][]semantic.VectorRecord
	stored  map[string]semantic.VectorRecord
	err     error
}

func (m *mockIndex) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, records)
	if m.stored == nil {
		m.stored = map[string]semantic.VectorRecord{}
	}
	for _, r := range records {
		m.stored[r.ID] = r
	}
	return nil
}

func (m *mockIndex) sizes() []int {
	out := make([]int, len(m.batches))
	for i, b := range m.batches {
		out[i] = len(b)
	}
	return out
}

func newOrchestrator(t *testing.T, emb Embedder, idx Index, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(Deps{Embedder: emb, Index: idx}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEmbedText(t *testing.T) {
	got := EmbedText(domain.Movie{Title: "Dune", Description: "Spice must flow."})
	if got != "Dune. Spice must flow." {
		t.Fatalf("unexpected embed text %q", got)
	}
}

func TestRecord(t *testing.T) {
	year := 2021
	m := domain.Movie{ID: movieID(1), Title: "Dune", Description: "Spice.", Genre: "Sci-Fi", Year: &year}
	r := Record(m, []float32{1, 2})
	if r.ID != m.ID || len(r.Embedding) != 2 {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Payload[domain.PayloadTitle] != "Dune" || r.Payload[domain.PayloadDescription] != "Spice." {
		t.Errorf("unexpected payload %v", r.Payload)
	}
	if r.Payload[domain.PayloadYear] != 2021 || r.Payload[domain.PayloadGenre] != "Sci-Fi" {
		t.Errorf("missing optional payload %v", r.Payload)
	}

	bare := Record(domain.Movie{ID: movieID(2), Title: "T", Description: "D"}, nil)
	if _, ok := bare.Payload[domain.PayloadYear]; ok {
		t.Error("unknown year should be omitted")
	}
	if _, ok := bare.Payload[domain.PayloadGenre]; ok {
		t.Error("empty genre should be omitted")
	}
}

func TestRun_BatchSizes(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{}
	o := newOrchestrator(t, emb, idx, DefaultOptions())

	report, err := o.Run(context.Background(), testMovies(250))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := idx.sizes(); !equalInts(got, []int{100, 100, 50}) {
		t.Fatalf("expected upserts of 100, 100, 50, got %v", got)
	}
	if report.Total != 250 || report.Upserted != 250 || report.Batches != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(emb.calls) != 250 {
		t.Fatalf("expected 250 embed calls, got %d", len(emb.calls))
	}
}

func TestRun_PreservesOrder(t *testing.T) {
	idx := &mockIndex{}
	o := newOrchestrator(t, &mockEmbedder{}, idx, Options{BatchSize: 10, Workers: 4})

	if _, err := o.Run(context.Background(), testMovies(25)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := idx.sizes(); !equalInts(got, []int{10, 10, 5}) {
		t.Fatalf("unexpected sizes %v", got)
	}
	n := 0
	for _, b := range idx.batches {
		for _, r := range b {
			if r.ID != movieID(n) {
				t.Fatalf("position %d: expected %s, got %s", n, movieID(n), r.ID)
			}
			n++
		}
	}
}

func TestRun_EmbeddingBeforeUpsert(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{}
	o := newOrchestrator(t, emb, idx, Options{BatchSize: 3})
	movies := testMovies(7)

	if _, err := o.Run(context.Background(), movies); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, m := range movies {
		r, ok := idx.stored[m.ID]
		if !ok {
			t.Fatalf("movie %s not upserted", m.ID)
		}
		if len(r.Embedding) != 4 || r.Embedding[3] != float32(len(EmbedText(m))) {
			t.Fatalf("movie %s upserted without its embedding: %v", m.ID, r.Embedding)
		}
	}
}

func TestRun_FailFastNamesRecord(t *testing.T) {
	movies := testMovies(150)
	emb := &mockEmbedder{failOn: map[string]bool{EmbedText(movies[120]): true}}
	idx := &mockIndex{}
	o := newOrchestrator(t, emb, idx, DefaultOptions())

	report, err := o.Run(context.Background(), movies)
	var re *RecordError
	if !errors.As(err, &re) {
		t.Fatalf("expected RecordError, got %v", err)
	}
	if re.ID != movieID(120) || !strings.Contains(err.Error(), movieID(120)) {
		t.Fatalf("error should name the failing record, got %v", err)
	}
	if _, ok := domain.AsProvider(err); !ok {
		t.Fatal("provider error should stay in the chain")
	}
	if got := idx.sizes(); !equalInts(got, []int{100}) {
		t.Fatalf("expected only the first batch to be upserted, got %v", got)
	}
	if report.Upserted != 100 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(emb.calls) != 121 {
		t.Fatalf("expected embedding to stop at the failing record, got %d calls", len(emb.calls))
	}
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func TestRun_FailFastStopsConcurrentEmbedding(t *testing.T) {
	movies := testMovies(150)
	failing := EmbedText(movies[120])
	later := map[string]bool{}
	for _, m := range movies[121:] {
		later[EmbedText(m)] = true
	}

	var calls atomic.Int32
	emb := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		switch {
		case text == failing:
			return nil, domain.NewProviderError("openai", "embed", errors.New("rate limited"))
		case later[text]:
			// Hold the worker slot until the run gives up.
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []float32{1, 0, 0, 0}, nil
	})
	idx := &mockIndex{}
	o := newOrchestrator(t, emb, idx, Options{Workers: 4})

	_, err := o.Run(context.Background(), movies)
	var re *RecordError
	if !errors.As(err, &re) || re.ID != movieID(120) {
		t.Fatalf("expected failure on %s, got %v", movieID(120), err)
	}
	// At most the three other workers can have started past the failure.
	if n := calls.Load(); n > 124 {
		t.Fatalf("expected at most 124 embedding calls, got %d", n)
	}
	if got := idx.sizes(); !equalInts(got, []int{100}) {
		t.Fatalf("expected only the first batch to be upserted, got %v", got)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	movies := testMovies(205)
	emb := &mockEmbedder{failOn: map[string]bool{
		EmbedText(movies[3]):   true,
		EmbedText(movies[150]): true,
	}}
	idx := &mockIndex{}
	o := newOrchestrator(t, emb, idx, Options{ContinueOnError: true})

	report, err := o.Run(context.Background(), movies)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := idx.sizes(); !equalInts(got, []int{100, 100, 3}) {
		t.Fatalf("expected full batches despite gaps, got %v", got)
	}
	if len(report.Failed) != 2 || report.Failed[0] != movieID(3) || report.Failed[1] != movieID(150) {
		t.Fatalf("unexpected failures %v", report.Failed)
	}
	if report.Upserted != 203 {
		t.Fatalf("expected 203 upserted, got %d", report.Upserted)
	}
}

func TestRun_UpsertFailureAborts(t *testing.T) {
	idx := &mockIndex{err: domain.NewProviderError("qdrant", "upsert", errors.New("unavailable"))}
	o := newOrchestrator(t, &mockEmbedder{}, idx, Options{ContinueOnError: true})

	_, err := o.Run(context.Background(), testMovies(5))
	if err == nil || !strings.Contains(err.Error(), "upsert batch 1") {
		t.Fatalf("expected upsert error, got %v", err)
	}
	if _, ok := domain.AsProvider(err); !ok {
		t.Fatal("expected ProviderError in chain")
	}
}

func TestRun_Idempotent(t *testing.T) {
	idx := &mockIndex{}
	o := newOrchestrator(t, &mockEmbedder{}, idx, Options{BatchSize: 4})
	movies := testMovies(10)

	for i := 0; i < 2; i++ {
		if _, err := o.Run(context.Background(), movies); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(idx.stored) != 10 {
		t.Fatalf("expected 10 distinct ids, got %d", len(idx.stored))
	}
}

func TestRun_OnBatch(t *testing.T) {
	var events []BatchEvent
	o, err := New(Deps{
		Embedder: &mockEmbedder{},
		Index:    &mockIndex{},
		OnBatch:  func(_ context.Context, ev BatchEvent) { events = append(events, ev) },
	}, Options{BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := o.Run(context.Background(), testMovies(5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[2]
	if last.Batch != 3 || last.Size != 1 || last.Upserted != 5 || last.Total != 5 {
		t.Fatalf("unexpected last event %+v", last)
	}
}

func TestRun_Empty(t *testing.T) {
	idx := &mockIndex{}
	o := newOrchestrator(t, &mockEmbedder{}, idx, DefaultOptions())
	report, err := o.Run(context.Background(), nil)
	if err != nil || report.Batches != 0 || len(idx.batches) != 0 {
		t.Fatalf("expected no-op, got %+v, %v", report, err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emb := &mockEmbedder{}
	o := newOrchestrator(t, emb, &mockIndex{}, Options{ContinueOnError: true})

	_, err := o.Run(ctx, testMovies(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(emb.calls) != 0 {
		t.Fatalf("expected no embed calls, got %d", len(emb.calls))
	}
}

func TestRun_RateLimited(t *testing.T) {
	idx := &mockIndex{}
	o := newOrchestrator(t, &mockEmbedder{}, idx, Options{RatePerSecond: 1000})
	if _, err := o.Run(context.Background(), testMovies(5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(idx.stored) != 5 {
		t.Fatalf("expected 5 stored, got %d", len(idx.stored))
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}, DefaultOptions()); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
