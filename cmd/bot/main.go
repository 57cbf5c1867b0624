// An automated taker/maker bot for short-duration binary up/down
// prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — wires every collaborator together and drives each on its own cadence
//	strategy/*.go        — the five trading engines (arb, straddle+bias, lag, momentum, maker) + Orchestrator
//	signal/*.go          — fair-probability model, realized-vol regime classifier, momentum/compression/bias detectors
//	feed/reference.go    — underlying spot/futures price + funding + liquidation feed
//	feed/discovery.go    — polls the markets endpoint, filters and ranks tradeable markets
//	feed/book.go         — local order book mirror fed by WebSocket snapshots, refreshed by REST on a timer
//	gateway/client.go    — REST client for the order gateway (place/cancel orders, fetch book/balance)
//	gateway/auth.go      — L1 (EIP-712) and L2 (HMAC) authentication
//	order/builder.go     — tick-rounding, fixed-point conversion, and EIP-712 order signing
//	fill/tracker.go       — polls resting-order status and reports newly observed fills
//	exit/controller.go   — per-position take-profit/stop-loss/forced-exit escalation
//	position/manager.go  — the single authoritative ledger of positions, straddles, and P&L
//	risk/manager.go      — exposure, drawdown, and loss-streak limits; kill switch and pause
//	store/store.go       — append-only audit log of fills and resolutions
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"updown-mm/internal/config"
	"updown-mm/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("bot started", "assets", cfg.Reference.Assets, "max_exposure_pct", cfg.Risk.MaxExposurePct, "dry_run", cfg.DryRun)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
