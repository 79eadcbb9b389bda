package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(opts BreakerOpts) (*Breaker, *clock) {
	b := NewBreaker(opts)
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker must reject without calling, got %v (called=%v)", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 2})
	ctx := context.Background()
	b.Call(ctx, fail)
	b.Call(ctx, ok)
	b.Call(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures should not trip, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, c := newTestBreaker(BreakerOpts{FailThreshold: 1, Cooldown: 10 * time.Second})
	ctx := context.Background()
	b.Call(ctx, fail)

	c.advance(11 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if err := b.Call(ctx, ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("successful probe should close, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, c := newTestBreaker(BreakerOpts{FailThreshold: 1, Cooldown: 10 * time.Second})
	ctx := context.Background()
	b.Call(ctx, fail)
	c.advance(10 * time.Second)

	b.Call(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b, _ := newTestBreaker(BreakerOpts{FailThreshold: 1})
	b.Call(context.Background(), func(context.Context) error { return context.Canceled })
	if b.State() != StateClosed {
		t.Fatalf("caller cancellation should not trip, got %s", b.State())
	}
}

func TestBreaker_CustomIsFailure(t *testing.T) {
	benign := errors.New("not found")
	b, _ := newTestBreaker(BreakerOpts{
		FailThreshold: 1,
		IsFailure:     func(err error) bool { return !errors.Is(err, benign) },
	})
	b.Call(context.Background(), func(context.Context) error { return benign })
	if b.State() != StateClosed {
		t.Fatalf("benign error should not trip, got %s", b.State())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 4)
	b, c := newTestBreaker(BreakerOpts{
		FailThreshold: 1,
		Cooldown:      time.Second,
		OnStateChange: func(from, to State) {
			mu.Lock()
			seen = append(seen, from.String()+">"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	})
	ctx := context.Background()
	b.Call(ctx, fail)
	c.advance(time.Second)
	b.Call(ctx, ok)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transition %d", i)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := map[string]bool{"closed>open": true, "open>half-open": true, "half-open>closed": true}
	for _, s := range seen {
		if !want[s] {
			t.Fatalf("unexpected transition %s", s)
		}
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	v, err := Do(context.Background(), b, func(context.Context) ([]float32, error) {
		return []float32{1, 2}, nil
	})
	if err != nil || len(v) != 2 {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestStateString(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
