// Command qris-server serves the QRIS merchant classifier HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/compare"
	"github.com/and161185/qris-classifier/internal/config"
	"github.com/and161185/qris-classifier/internal/gemini"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/logging"
	httpserver "github.com/and161185/qris-classifier/internal/server/http"
	"github.com/and161185/qris-classifier/internal/service"
	"github.com/and161185/qris-classifier/internal/storage"
	"github.com/and161185/qris-classifier/internal/validate"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	base, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = base.Sync() }()
	base.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Address),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := storage.Open(ctx, storage.Options{
		DSN:            cfg.Database.DSN,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		LimiterBackend: cfg.RateLimit.Backend,
	}, base)
	defer st.Close()

	// Warn and above also land in system_logs for the admin dashboard.
	sink := logging.NewSystemSink(st.Logs, 0)
	sinkCtx, stopSink := context.WithCancel(context.Background())
	sinkDone := make(chan struct{})
	go func() {
		sink.Run(sinkCtx)
		close(sinkDone)
	}()
	logger := sink.Tee(base)

	cls, cmp := buildClassifier(cfg, logger)

	authSvc := service.NewAuthService(st.Users, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.RateLimit.DefaultUserLimit, logger)
	boot, err := authSvc.EnsureBootstrapAdmin(ctx, service.BootstrapAdmin{
		Email:    cfg.Bootstrap.AdminEmail,
		Password: cfg.Bootstrap.AdminPassword,
		APIKey:   cfg.Bootstrap.AdminAPIKey,
	})
	if err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}
	if boot.GeneratedPassword != "" || boot.GeneratedAPIKey != "" {
		// Printed once; only hashes are stored.
		base.Info("generated bootstrap admin credentials",
			zap.String("email", boot.User.Email),
			zap.String("password", boot.GeneratedPassword),
			zap.String("api_key", boot.GeneratedAPIKey),
		)
	}
	if err := st.SeedFallback(ctx); err != nil {
		logger.Warn("admin accounts not cached for database outages", zap.Error(err))
	}

	classifySvc := service.NewClassifyService(cls, cmp, st.Logs, cfg.Classifier.Timeout, logger)
	adminSvc := service.NewAdminService(st.Users, st.Logs, st.Limiter, st, cfg.Classifier.Provider, version, logger)

	go limiter.RunSweeper(ctx, st.Limiter, cfg.RateLimit.CleanupInterval, logger)

	api := httpserver.New(httpserver.Deps{
		Auth:      authSvc,
		Classify:  classifySvc,
		Admin:     adminSvc,
		Limiter:   st.Limiter,
		Validator: validate.New(cfg.Server.MaxRequestBytes),
	}, httpserver.Options{
		Window:         cfg.RateLimit.Window,
		AnonymousLimit: cfg.RateLimit.AnonymousLimit,
		CORSOrigins:    cfg.Server.CORSOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.Classifier.Timeout + time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Address), zap.Bool("degraded", st.Degraded()))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	exit := 0
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown timed out", zap.Error(err))
			_ = srv.Close()
		}
		cancel()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			exit = 1
		}
	}

	stopSink()
	<-sinkDone
	base.Info("shutdown complete", zap.Int64("system_logs_dropped", sink.Dropped()))
	if exit != 0 {
		os.Exit(exit)
	}
}

// buildClassifier wires the configured provider. The gemini provider backs
// both classification and name comparison; comparison always falls back to
// the keyword table.
func buildClassifier(cfg *config.Config, log *zap.Logger) (classifier.Classifier, compare.Comparator) {
	switch cfg.Classifier.Provider {
	case "gemini":
		client := gemini.New(cfg.Classifier.APIKey, cfg.Classifier.Model, gemini.WithBaseURL(cfg.Classifier.BaseURL))
		log.Info("classifier", zap.String("provider", "gemini"), zap.String("model", client.Model()))
		return classifier.NewGemini(client), compare.NewWithFallback(compare.NewAI(client), cfg.Compare.Timeout, log)
	default:
		log.Info("classifier", zap.String("provider", "static"), zap.String("label", cfg.Classifier.StaticLabel))
		return classifier.NewStatic(cfg.Classifier.StaticLabel), compare.NewWithFallback(nil, cfg.Compare.Timeout, log)
	}
}
