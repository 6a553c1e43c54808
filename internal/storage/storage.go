// Package storage selects the persistence backends at startup and records
// whether the service runs degraded on process-local fallbacks, either from
// startup or because the database stopped answering later.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/migrate"
	"github.com/and161185/qris-classifier/internal/repository"
	"github.com/and161185/qris-classifier/internal/repository/memory"
	"github.com/and161185/qris-classifier/internal/repository/postgres"
)

// Limiter backends.
const (
	LimiterMemory   = "memory"
	LimiterPostgres = "postgres"
)

// ErrDegraded is returned by Ping while running on fallbacks.
var ErrDegraded = errors.New("storage degraded: running on in-memory fallback")

// Options configures Open.
type Options struct {
	DSN            string
	ConnectTimeout time.Duration
	LimiterBackend string
	LogCapacity    int
}

// Storage bundles the repositories the services depend on.
type Storage struct {
	Users   repository.UserRepository
	Logs    repository.LogRepository
	Limiter limiter.Limiter

	pool     *pgxpool.Pool
	degraded bool
	reason   string
	failover *failoverUsers
	log      *zap.Logger

	mu      sync.Mutex
	outage  bool
	lastErr string
}

// New assembles healthy storage around users, logs and lim. User lookups
// fail over to an in-memory copy of the admin accounts while users returns
// infrastructure errors.
func New(users repository.UserRepository, logs repository.LogRepository, lim limiter.Limiter, log *zap.Logger) *Storage {
	s := &Storage{Logs: logs, Limiter: lim, log: log}
	s.failover = &failoverUsers{primary: users, fallback: memory.NewUserRepo(), st: s}
	s.Users = s.failover
	return s
}

// Open connects to PostgreSQL and runs migrations. It never fails: when the
// database is not configured or unreachable it returns in-memory backends and
// marks the storage degraded.
func Open(ctx context.Context, opts Options, log *zap.Logger) *Storage {
	if opts.DSN == "" {
		log.Warn("no database configured, running degraded on in-memory storage")
		return fallback(opts, "database not configured")
	}

	pool, err := postgres.Connect(ctx, opts.DSN, opts.ConnectTimeout)
	if err != nil {
		log.Warn("database unreachable, running degraded on in-memory storage", zap.Error(err))
		return fallback(opts, "database unreachable")
	}
	if err := migrate.Up(ctx, pool); err != nil {
		pool.Close()
		log.Warn("database migration failed, running degraded on in-memory storage", zap.Error(err))
		return fallback(opts, "database migration failed")
	}

	db := &postgres.DB{Pool: pool}
	var lim limiter.Limiter = limiter.NewMemory()
	if opts.LimiterBackend == LimiterPostgres {
		lim = limiter.NewPG(pool)
	}
	s := New(postgres.NewUserRepo(db), postgres.NewLogRepo(db), lim, log)
	s.pool = pool
	log.Info("storage ready", zap.String("limiter", limiterName(s.Limiter)))
	return s
}

func fallback(opts Options, reason string) *Storage {
	return &Storage{
		Users:    memory.NewUserRepo(),
		Logs:     memory.NewLogRepo(opts.LogCapacity),
		Limiter:  limiter.NewMemory(),
		degraded: true,
		reason:   reason,
	}
}

// NewInMemory returns degraded storage without attempting a connection.
func NewInMemory() *Storage { return fallback(Options{}, "in-memory storage") }

// Degraded reports whether the service runs on in-memory fallbacks, from
// startup or during a database outage.
func (s *Storage) Degraded() bool {
	if s.degraded {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outage
}

// Reason explains why storage is degraded; empty when it is not.
func (s *Storage) Reason() string {
	if s.degraded {
		return s.reason
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outage {
		return "database unavailable: " + s.lastErr
	}
	return ""
}

// SeedFallback copies the current admin accounts into the outage fallback.
// It is a no-op for storage that is degraded from startup.
func (s *Storage) SeedFallback(ctx context.Context) error {
	if s.failover == nil {
		return nil
	}
	if err := s.failover.seed(ctx); err != nil {
		return fmt.Errorf("seed fallback users: %w", err)
	}
	return nil
}

// Ping checks the database and updates the outage state.
func (s *Storage) Ping(ctx context.Context) error {
	if s.degraded {
		return ErrDegraded
	}
	if s.pool != nil {
		if err := s.pool.Ping(ctx); err != nil {
			s.markDown(err)
			return fmt.Errorf("%w: %v", ErrDegraded, err)
		}
		s.markUp()
	}
	if s.Degraded() {
		return ErrDegraded
	}
	return nil
}

func (s *Storage) markDown(err error) {
	s.mu.Lock()
	was := s.outage
	s.outage, s.lastErr = true, err.Error()
	s.mu.Unlock()
	if !was && s.log != nil {
		s.log.Warn("database unavailable, serving users from in-memory fallback", zap.Error(err))
	}
}

func (s *Storage) markUp() {
	s.mu.Lock()
	was := s.outage
	s.outage, s.lastErr = false, ""
	s.mu.Unlock()
	if was && s.log != nil {
		s.log.Info("database recovered")
	}
}

// Close releases the connection pool.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func limiterName(l limiter.Limiter) string {
	if _, ok := l.(*limiter.PG); ok {
		return LimiterPostgres
	}
	return LimiterMemory
}
