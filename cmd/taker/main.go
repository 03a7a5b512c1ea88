// Polytaker — an ultra-low-latency taker bot for Polymarket binary
// prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires auth, book, oracle, decision loop, fill tracker
//	decision/loop.go     — edge detection: compares oracle fair value against the book, sizes and price-caps IOC orders
//	market/book.go       — local order book mirror fed by WebSocket snapshots + price changes
//	market/meta.go       — resolves the configured market's tick size and token IDs from the Gamma API
//	oracle/client.go     — polls or streams the external fair-value signal
//	exchange/client.go   — REST client for Polymarket CLOB API (place/cancel orders, fetch book)
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	exchange/ws.go       — WebSocket feeds (market data + user fills/orders) with auto-reconnect
//	exchange/filltracker.go — consumes user channel events, applies fills to the Position Gate
//	risk/gate.go         — the Position Gate: exposure cap, single-flight in-flight slot, realized PnL
//	store/store.go       — JSON file persistence for the position (survives restarts)
//
// How it makes money:
//
//	The bot compares an external fair-value oracle against the live order
//	book. When the book's best price diverges from the oracle's implied
//	probability by more than the configured edge threshold, it takes
//	liquidity with a price-capped IOC/FOK order rather than resting a quote —
//	it never provides liquidity, only consumes observed mispricings quickly.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polytaker/internal/config"
	"polytaker/internal/engine"
)

func main() {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("polytaker started",
		"market", cfg.Market.ConditionID,
		"edge_threshold", cfg.Decision.EdgeThreshold,
		"max_exposure", cfg.Risk.MaxExposureQuote,
		"dry_run", cfg.DryRun,
	)

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
