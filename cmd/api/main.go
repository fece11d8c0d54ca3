// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"libraledger/internal/catalog"
	"libraledger/internal/config"
	"libraledger/internal/db"
	"libraledger/internal/inventory"
	"libraledger/internal/journal"
	"libraledger/internal/ledger"
	"libraledger/internal/lending"
	"libraledger/internal/scoring"
	"libraledger/internal/store"
	"libraledger/internal/telemetry"
	"libraledger/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, providers.Shutdown(sctx))
	}()

	client, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, client.Close())
	}()

	router, err := newRouter(client, cfg.RateLimit, logger, providers)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting lending api", "port", cfg.HTTP.Port, "driver", cfg.Database.Driver)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newRouter(client *store.Client, limits config.RateLimitConfig, logger *slog.Logger, providers *telemetry.Providers) (http.Handler, error) {
	books := catalog.NewService(client)
	loans := ledger.New(client)
	events := journal.New(client)

	svc, err := lending.NewService(
		books,
		inventory.NewGuard(client),
		loans,
		scoring.NewAggregator(client),
		lending.WithJournal(events),
		lending.WithLogger(logger),
		lending.WithTracerProvider(providers.Tracer),
		lending.WithMeterProvider(providers.Meter),
	)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(web.RequestLogger(logger))
	router.Use(web.RateLimit(rate.NewLimiter(rate.Limit(limits.RPS), limits.Burst)))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	catalog.NewHandler(books, loans).Routes(router)
	lending.NewHandler(svc, events).Routes(router)

	return router, nil
}
