package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

// DefaultLogCapacity bounds each in-memory log table.
const DefaultLogCapacity = 5000

// LogRepo is an in-memory LogRepository keeping the most recent entries.
type LogRepo struct {
	mu       sync.RWMutex
	capacity int
	requests []model.RequestLog
	system   []model.SystemLog
	nextID   int64
}

// NewLogRepo constructs a repository keeping at most capacity entries per kind.
func NewLogRepo(capacity int) *LogRepo {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogRepo{capacity: capacity}
}

// InsertRequest implements repository.LogRepository.
func (r *LogRepo) InsertRequest(_ context.Context, l model.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	r.requests = append(r.requests, l)
	if len(r.requests) > r.capacity {
		r.requests = r.requests[len(r.requests)-r.capacity:]
	}
	return nil
}

// InsertSystem implements repository.LogRepository.
func (r *LogRepo) InsertSystem(_ context.Context, l model.SystemLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	l.ID = r.nextID
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	r.system = append(r.system, l)
	if len(r.system) > r.capacity {
		r.system = r.system[len(r.system)-r.capacity:]
	}
	return nil
}

func limitOf(f model.LogFilter) int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// ListRequests implements repository.LogRepository.
func (r *LogRepo) ListRequests(_ context.Context, f model.LogFilter) ([]model.RequestLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit := limitOf(f)
	var out []model.RequestLog
	for i := len(r.requests) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.requests[i]
		if !f.Since.IsZero() && l.CreatedAt.Before(f.Since) {
			continue
		}
		if f.UserID != nil && (l.UserID == nil || *l.UserID != *f.UserID) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ListSystem implements repository.LogRepository.
func (r *LogRepo) ListSystem(_ context.Context, f model.LogFilter) ([]model.SystemLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limit := limitOf(f)
	var out []model.SystemLog
	for i := len(r.system) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.system[i]
		if !f.Since.IsZero() && l.CreatedAt.Before(f.Since) {
			continue
		}
		if f.Level != "" && l.Level != f.Level {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// RequestStats implements repository.LogRepository.
func (r *LogRepo) RequestStats(_ context.Context, since time.Time) (model.RequestStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := model.RequestStats{ByBusinessType: map[string]int64{}, ByStatus: map[int]int64{}}
	var sum int64
	for _, l := range r.requests {
		if l.CreatedAt.Before(since) {
			continue
		}
		st.Total++
		sum += l.DurationMS
		if l.StatusCode < 400 {
			st.Succeeded++
		}
		if l.BusinessType != "" {
			st.ByBusinessType[l.BusinessType]++
		}
		st.ByStatus[l.StatusCode]++
	}
	st.Failed = st.Total - st.Succeeded
	if st.Total > 0 {
		st.AvgDurationMS = float64(sum) / float64(st.Total)
	}
	return st, nil
}

// Clear implements repository.LogRepository.
func (r *LogRepo) Clear(_ context.Context, kind model.LogKind, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	clearReq := func() {
		kept := r.requests[:0]
		for _, l := range r.requests {
			if l.CreatedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, l)
		}
		r.requests = kept
	}
	clearSys := func() {
		kept := r.system[:0]
		for _, l := range r.system {
			if l.CreatedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, l)
		}
		r.system = kept
	}

	switch kind {
	case model.LogKindRequest:
		clearReq()
	case model.LogKindSystem:
		clearSys()
	case model.LogKindAll:
		clearReq()
		clearSys()
	default:
		return 0, fmt.Errorf("%w: log kind %q", errs.ErrInvalidInput, kind)
	}
	return n, nil
}
