package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/p-n-ai/pai-study/internal/curriculum"
	"github.com/p-n-ai/pai-study/internal/identity"
	"github.com/p-n-ai/pai-study/internal/platform/cache"
	"github.com/p-n-ai/pai-study/internal/platform/config"
	"github.com/p-n-ai/pai-study/internal/platform/database"
	"github.com/p-n-ai/pai-study/internal/progress"
	"github.com/p-n-ai/pai-study/internal/web"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(cfg.Log.NewLogger(os.Stdout))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	catalog, err := curriculum.NewLoader(cfg.ContentPath)
	if err != nil {
		return fmt.Errorf("loading content: %w", err)
	}

	opts, cleanup, err := buildOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	opts.Catalog = catalog

	srv := newHTTPServer(cfg, web.NewServer(opts).Handler())

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "lessons", len(catalog.AllLessons()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// buildOptions connects the configured backends. Without a database URL
// progress is kept in memory; without a cache URL there is no caching and
// every request is anonymous.
func buildOptions(ctx context.Context, cfg *config.Config) (web.Options, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := web.Options{
		Store:  progress.NewMemoryStore(),
		Events: progress.NopEventLogger{},
		Checks: map[string]web.HealthChecker{},
	}

	if cfg.HasDatabase() {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return web.Options{}, cleanup, fmt.Errorf("connecting to database: %w", err)
		}
		closers = append(closers, db.Close)

		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx, progress.SchemaStatements(cfg.Progress.Table)); err != nil {
				cleanup()
				return web.Options{}, func() {}, err
			}
			slog.Info("progress schema ready", "table", cfg.Progress.Table)
		}

		store, err := progress.NewPostgresStore(db.Pool, cfg.Progress.Table)
		if err != nil {
			cleanup()
			return web.Options{}, func() {}, err
		}
		opts.Store = store
		opts.Events = progress.NewPostgresEventLogger(db.Pool)
		opts.Checks["database"] = db
	} else {
		slog.Warn("no database configured, progress is kept in memory")
	}

	if cfg.HasCache() {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			cleanup()
			return web.Options{}, func() {}, fmt.Errorf("connecting to cache: %w", err)
		}
		closers = append(closers, func() { c.Close() })

		opts.Store = progress.NewCachedStore(opts.Store, c.Client, cfg.Progress.CacheTTL)
		sessions := identity.NewSessionStore(c.Client, cfg.Auth.SessionTTL)
		opts.Identity = func(token string) identity.Source { return sessions.ForToken(token) }
		opts.Checks["cache"] = c
	} else {
		slog.Warn("no cache configured, sessions are disabled and all users are anonymous")
	}

	return opts, cleanup, nil
}

func newHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
