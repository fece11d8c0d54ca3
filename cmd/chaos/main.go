// cmd/chaos/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libraledger/internal/chaos"
	"libraledger/internal/clients"
	"libraledger/internal/config"
	"libraledger/internal/db"
	"libraledger/internal/inventory"
	"libraledger/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	// The race runs against the API; the stock invariant is checked directly in its store.
	client, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to store", "error", err)
		os.Exit(1)
	}

	engine := chaos.NewEngine(chaos.WithLogger(logger), chaos.WithTracerProvider(providers.Tracer))
	engine.RegisterExperiments(
		clients.NewLedgerClient(cfg.LedgerURL),
		inventory.NewGuard(client).Mismatches,
		chaos.RaceConfig{},
	)

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Weekly Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     5 * time.Second,
	})

	client.Close()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if serr := providers.Shutdown(sctx); serr != nil {
		logger.Warn("failed to flush traces", "error", serr)
	}

	if err != nil {
		logger.Error("chaos game day failed", "error", err)
		os.Exit(1)
	}
	if !held {
		logger.Error("chaos game day found violated hypotheses")
		os.Exit(1)
	}
}
