package limiter

import (
	"context"
	"sync"
	"time"
)

type counterKey struct {
	identifier string
	window     int64
}

type counter struct {
	count int
	reset time.Time
}

// Memory is a process-local Limiter. The increment and the comparison happen
// under one lock, so concurrent callers can never both take the last slot.
type Memory struct {
	mu       sync.Mutex
	counters map[counterKey]*counter
	now      func() time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory constructs an empty in-memory limiter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{counters: make(map[counterKey]*counter), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Check implements Limiter.
func (m *Memory) Check(_ context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	now := m.now()
	wk, reset := windowOf(now, window)
	k := counterKey{identifier: identifier, window: wk}

	m.mu.Lock()
	c, ok := m.counters[k]
	if !ok || !c.reset.After(now) {
		c = &counter{reset: reset}
		m.counters[k] = c
	}
	c.count++
	count := c.count
	m.mu.Unlock()

	return result(count, limit, reset), nil
}

// Peek implements Limiter.
func (m *Memory) Peek(_ context.Context, identifier string, limit int, window time.Duration) (Result, error) {
	now := m.now()
	wk, reset := windowOf(now, window)

	m.mu.Lock()
	var count int
	if c, ok := m.counters[counterKey{identifier: identifier, window: wk}]; ok && c.reset.After(now) {
		count = c.count
	}
	m.mu.Unlock()

	r := result(count, limit, reset)
	r.Allowed = count < limit
	return r, nil
}

// Cleanup implements Limiter.
func (m *Memory) Cleanup(context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, c := range m.counters {
		if !c.reset.After(now) {
			delete(m.counters, k)
			n++
		}
	}
	return n, nil
}

// Active implements Limiter.
func (m *Memory) Active(context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.counters {
		if c.reset.After(now) {
			n++
		}
	}
	return n, nil
}
