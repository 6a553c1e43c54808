package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/model"
	"github.com/and161185/qris-classifier/internal/repository"
)

const (
	dashboardWindow = 24 * time.Hour
	recentErrors    = 10
)

// StorageState exposes backend health.
type StorageState interface {
	Degraded() bool
	Reason() string
	Ping(ctx context.Context) error
}

// Health summarizes service state for operators.
type Health struct {
	Status     string        `json:"status"` // ok|degraded
	Degraded   bool          `json:"degraded"`
	Reason     string        `json:"reason,omitempty"`
	Database   string        `json:"database"` // up|down|memory
	Classifier string        `json:"classifier"`
	Version    string        `json:"version"`
	Uptime     time.Duration `json:"-"`
	UptimeSec  int64         `json:"uptimeSeconds"`
}

// UserCounts breaks down accounts for the dashboard.
type UserCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Admins int `json:"admins"`
	APIKey int `json:"withApiKey"`
}

// Dashboard is the admin overview.
type Dashboard struct {
	Health           Health             `json:"health"`
	Users            UserCounts         `json:"users"`
	Requests         model.RequestStats `json:"requests"`
	RecentErrors     []model.SystemLog  `json:"-"`
	ActiveRateLimits int64              `json:"activeRateLimits"`
}

// AdminService backs the admin dashboard and maintenance actions.
type AdminService struct {
	users      repository.UserRepository
	logs       repository.LogRepository
	lim        limiter.Limiter
	store      StorageState
	classifier string
	version    string
	started    time.Time
	log        *zap.Logger
	now        func() time.Time
}

// NewAdminService constructs AdminService.
func NewAdminService(users repository.UserRepository, logs repository.LogRepository, lim limiter.Limiter, store StorageState, classifierName, version string, log *zap.Logger) *AdminService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminService{
		users:      users,
		logs:       logs,
		lim:        lim,
		store:      store,
		classifier: classifierName,
		version:    version,
		started:    time.Now(),
		log:        log,
		now:        time.Now,
	}
}

// Version returns the build version reported by health endpoints.
func (s *AdminService) Version() string { return s.version }

// Degraded reports whether storage runs on in-memory fallbacks.
func (s *AdminService) Degraded() bool { return s.store.Degraded() }

// Health pings the database and reports the degraded flag.
func (s *AdminService) Health(ctx context.Context) Health {
	pingErr := s.store.Ping(ctx)
	h := Health{
		Status:     "ok",
		Degraded:   s.store.Degraded(),
		Reason:     s.store.Reason(),
		Classifier: s.classifier,
		Version:    s.version,
		Uptime:     s.now().Sub(s.started),
	}
	h.UptimeSec = int64(h.Uptime / time.Second)
	switch {
	case h.Degraded:
		h.Database = "memory"
	case pingErr != nil:
		h.Database = "down"
	default:
		h.Database = "up"
	}
	if h.Degraded || h.Database != "up" {
		h.Status = "degraded"
	}
	return h
}

// Dashboard gathers health, user counts, last-day request stats and recent warnings.
func (s *AdminService) Dashboard(ctx context.Context) (Dashboard, error) {
	d := Dashboard{Health: s.Health(ctx)}

	users, err := s.users.List(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		d.Users.Total++
		if u.IsActive {
			d.Users.Active++
		}
		if u.IsAdmin() {
			d.Users.Admins++
		}
		if u.HasAPIKey() {
			d.Users.APIKey++
		}
	}

	if d.Requests, err = s.logs.RequestStats(ctx, s.now().Add(-dashboardWindow)); err != nil {
		return Dashboard{}, fmt.Errorf("request stats: %w", err)
	}
	if d.RecentErrors, err = s.logs.ListSystem(ctx, model.LogFilter{Limit: recentErrors}); err != nil {
		return Dashboard{}, fmt.Errorf("system logs: %w", err)
	}
	if d.ActiveRateLimits, err = s.lim.Active(ctx); err != nil {
		s.log.Warn("count active rate limits", zap.Error(err))
	}
	return d, nil
}

// Stats aggregates request logs since the given instant.
func (s *AdminService) Stats(ctx context.Context, since time.Time) (model.RequestStats, error) {
	return s.logs.RequestStats(ctx, since)
}

// RequestLogs lists request logs.
func (s *AdminService) RequestLogs(ctx context.Context, f model.LogFilter) ([]model.RequestLog, error) {
	return s.logs.ListRequests(ctx, f)
}

// SystemLogs lists persisted warnings and errors.
func (s *AdminService) SystemLogs(ctx context.Context, f model.LogFilter) ([]model.SystemLog, error) {
	return s.logs.ListSystem(ctx, f)
}

// ClearLogs deletes logs of kind older than before.
func (s *AdminService) ClearLogs(ctx context.Context, kind model.LogKind, before time.Time) (int64, error) {
	switch kind {
	case model.LogKindRequest, model.LogKindSystem, model.LogKindAll:
	default:
		return 0, fmt.Errorf("%w: log kind %q", errs.ErrInvalidInput, kind)
	}
	if before.IsZero() {
		before = s.now()
	}
	n, err := s.logs.Clear(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	s.log.Info("logs cleared", zap.String("kind", string(kind)), zap.Int64("deleted", n))
	return n, nil
}

// CleanupRateLimits drops expired rate-limit counters.
func (s *AdminService) CleanupRateLimits(ctx context.Context) (int64, error) {
	return s.lim.Cleanup(ctx)
}
