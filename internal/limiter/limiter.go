// Package limiter implements fixed-window request budgets keyed by identity.
package limiter

import (
	"context"
	"time"
)

// DefaultWindow is the budget window used when a caller passes a non-positive one.
const DefaultWindow = time.Hour

// Result is the state of one identity's budget after a check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int       // in [0, Limit]
	ResetTime time.Time // end of the current window
}

// RetryAfter returns how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Limiter counts requests per (identifier, window).
type Limiter interface {
	// Check atomically increments the counter for the current window and compares it to limit.
	Check(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error)
	// Peek reports the current budget without consuming it.
	Peek(ctx context.Context, identifier string, limit int, window time.Duration) (Result, error)
	// Cleanup removes counters of windows that already ended and returns how many went away.
	Cleanup(ctx context.Context) (int64, error)
	// Active returns the number of live counters.
	Active(ctx context.Context) (int64, error)
}

// AnonymousKey returns the identifier of the unauthenticated budget for a client IP.
func AnonymousKey(ip string) string { return "global:" + ip }

// windowOf returns the window number containing now and the instant it ends.
func windowOf(now time.Time, window time.Duration) (int64, time.Time) {
	if window <= 0 {
		window = DefaultWindow
	}
	size := window.Milliseconds()
	key := now.UnixMilli() / size
	return key, time.UnixMilli((key + 1) * size)
}

func result(count, limit int, reset time.Time) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	if limit < 0 {
		limit = 0
	}
	if remaining > limit {
		remaining = limit
	}
	return Result{
		Allowed:   count <= limit && limit > 0,
		Limit:     limit,
		Remaining: remaining,
		ResetTime: reset,
	}
}
