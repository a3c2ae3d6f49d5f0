// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pinboard/internal/api"
	"github.com/starford/pinboard/internal/sse"
	pkgconfig "github.com/starford/pinboard/pkg/config"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, level := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("export_dir", cfg.Board.ExportDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker doubles as the workspaces' notifier.
	broker := sse.NewBroker(cfg.Board.SSEThrottle)
	defer broker.Close()

	svcs, err := app.newServices(logger, broker)
	if err != nil {
		return err
	}
	defer svcs.Close(logger)

	auth := api.NewAuthenticator(cfg.Auth.AuthEnabled(), cfg.Auth.Secret, cfg.Auth.LocalUser)
	apiRouter := api.NewRouter(svcs.svc, auth, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","workspaces":%d,"sse_clients":%d}`,
			svcs.spaces.Len(), broker.ClientCount())
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Every goroutine below observes gCtx, so a signal stops all of them.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Reload the config file on change and apply the log level.
	if cfg.App.WatchConfig && app.configPath != "" {
		watcher, err := pkgconfig.NewWatcher(app.configPath, 0, logger)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		g.Go(func() error {
			return watcher.Run(gCtx, func() {
				next := NewDefaultConfig()
				if err := pkgconfig.Load(app.configPath, next); err != nil {
					logger.Warn("config reload failed", slog.String("error", err.Error()))
					return
				}
				if next.App.LogLevel != level.Level() {
					level.Set(next.App.LogLevel)
					logger.Info("log level changed", slog.String("log_level", next.App.LogLevel.String()))
				}
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shut down once gCtx ends.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...", slog.String("cause", context.Cause(gCtx).Error()))

		// Open event streams only end when their clients go; close the
		// broker first so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
