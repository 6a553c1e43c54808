package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	// aligned to an hour boundary plus a bit, so windows are predictable
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC)}
}

func TestMemory_ExactlyLimitAdmitted_NextWindowResets(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 5, 37} {
		clk := newClock()
		m := NewMemory(WithClock(clk.Now))
		ctx := context.Background()

		for i := 1; i <= n; i++ {
			r, err := m.Check(ctx, "u1", n, time.Hour)
			if err != nil || !r.Allowed {
				t.Fatalf("limit=%d req#%d: allowed=%v err=%v", n, i, r.Allowed, err)
			}
			if r.Remaining != n-i {
				t.Fatalf("limit=%d req#%d: remaining=%d", n, i, r.Remaining)
			}
		}
		r, _ := m.Check(ctx, "u1", n, time.Hour)
		if r.Allowed || r.Remaining != 0 {
			t.Fatalf("limit=%d: N+1 must be rejected, got %+v", n, r)
		}

		clk.Advance(time.Hour)
		r, _ = m.Check(ctx, "u1", n, time.Hour)
		if !r.Allowed || r.Remaining != n-1 {
			t.Fatalf("limit=%d: next window must admit, got %+v", n, r)
		}
	}
}

func TestMemory_RemainingWithinBounds(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithClock(newClock().Now))
	for i := 0; i < 20; i++ {
		r, _ := m.Check(context.Background(), "x", 7, time.Minute)
		if r.Remaining < 0 || r.Remaining > r.Limit {
			t.Fatalf("remaining out of bounds: %+v", r)
		}
	}
}

func TestMemory_ResetTimeIsWindowEnd(t *testing.T) {
	t.Parallel()

	clk := newClock()
	m := NewMemory(WithClock(clk.Now))
	r, _ := m.Check(context.Background(), "x", 3, time.Hour)
	want := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	if !r.ResetTime.Equal(want) {
		t.Fatalf("reset=%v want %v", r.ResetTime, want)
	}
	if got := r.RetryAfter(clk.Now()); got != time.Hour-time.Second {
		t.Fatalf("retry-after=%v", got)
	}
	if r.RetryAfter(want.Add(time.Minute)) != 0 {
		t.Fatalf("retry-after must not be negative")
	}
}

func TestMemory_IdentitiesAreIndependent(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithClock(newClock().Now))
	ctx := context.Background()
	_, _ = m.Check(ctx, "a", 1, time.Hour)
	if r, _ := m.Check(ctx, "a", 1, time.Hour); r.Allowed {
		t.Fatalf("a must be exhausted")
	}
	if r, _ := m.Check(ctx, AnonymousKey("10.0.0.1"), 1, time.Hour); !r.Allowed {
		t.Fatalf("other identity must be admitted")
	}
}

func TestMemory_ConcurrentCallersNeverOveradmit(t *testing.T) {
	t.Parallel()

	const n = 50
	m := NewMemory(WithClock(newClock().Now))
	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, err := m.Check(context.Background(), "same", n, time.Hour)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if r.Allowed {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() != n || rejected.Load() != n {
		t.Fatalf("admitted=%d rejected=%d, want %d/%d", admitted.Load(), rejected.Load(), n, n)
	}
}

func TestMemory_PeekDoesNotConsume(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithClock(newClock().Now))
	ctx := context.Background()
	r, _ := m.Peek(ctx, "p", 2, time.Hour)
	if !r.Allowed || r.Remaining != 2 {
		t.Fatalf("fresh peek: %+v", r)
	}
	_, _ = m.Check(ctx, "p", 2, time.Hour)
	_, _ = m.Check(ctx, "p", 2, time.Hour)
	r, _ = m.Peek(ctx, "p", 2, time.Hour)
	if r.Allowed || r.Remaining != 0 {
		t.Fatalf("exhausted peek: %+v", r)
	}
}

func TestMemory_CleanupDropsEndedWindows(t *testing.T) {
	t.Parallel()

	clk := newClock()
	m := NewMemory(WithClock(clk.Now))
	ctx := context.Background()
	_, _ = m.Check(ctx, "a", 5, time.Minute)
	_, _ = m.Check(ctx, "b", 5, time.Hour)

	if n, _ := m.Active(ctx); n != 2 {
		t.Fatalf("active=%d", n)
	}
	if n, _ := m.Cleanup(ctx); n != 0 {
		t.Fatalf("nothing expired yet, removed=%d", n)
	}

	clk.Advance(2 * time.Minute)
	if n, _ := m.Cleanup(ctx); n != 1 {
		t.Fatalf("removed=%d want 1", n)
	}
	if n, _ := m.Active(ctx); n != 1 {
		t.Fatalf("active=%d want 1", n)
	}
}

func TestMemory_NonPositiveInputs(t *testing.T) {
	t.Parallel()

	m := NewMemory(WithClock(newClock().Now))
	r, _ := m.Check(context.Background(), "z", 0, 0)
	if r.Allowed || r.Remaining != 0 || r.Limit != 0 {
		t.Fatalf("zero limit must reject: %+v", r)
	}
	if r.ResetTime.IsZero() {
		t.Fatalf("default window must still yield a reset time")
	}
}
