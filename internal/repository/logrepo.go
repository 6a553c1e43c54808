package repository

import (
	"context"
	"time"

	"github.com/and161185/qris-classifier/internal/model"
)

// LogRepository persists request and system logs for the admin dashboard.
type LogRepository interface {
	// InsertRequest records one classify outcome.
	InsertRequest(ctx context.Context, l model.RequestLog) error
	// InsertSystem records one warn-or-above log entry.
	InsertSystem(ctx context.Context, l model.SystemLog) error
	// ListRequests returns newest-first request logs.
	ListRequests(ctx context.Context, f model.LogFilter) ([]model.RequestLog, error)
	// ListSystem returns newest-first system logs.
	ListSystem(ctx context.Context, f model.LogFilter) ([]model.SystemLog, error)
	// RequestStats aggregates request logs created at or after since.
	RequestStats(ctx context.Context, since time.Time) (model.RequestStats, error)
	// Clear deletes logs of kind created before the cutoff and returns how many went away.
	Clear(ctx context.Context, kind model.LogKind, before time.Time) (int64, error)
}
