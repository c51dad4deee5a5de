// Command ingestor runs the market-data ingestion service: one
// persistent WebSocket session against a single venue's public streaming
// channels, demuxed into typed records, batched, and flushed to a
// relational store.
//
// Architecture:
//
//	main.go                  — entry point: load config, build logger, run until signalled
//	internal/config          — environment-driven configuration (INGEST_* vars)
//	internal/venue           — wire frame parsing into the typed record model
//	internal/book            — incremental L2 order-book mirror
//	internal/batch           — size/interval-triggered batching with a final-drain scheduler
//	internal/session         — WebSocket connection lifecycle, subscribe, reconnect-with-backoff
//	internal/store           — Postgres writer, schema migration, readiness probe
//	internal/metrics         — Prometheus scrape endpoint
//	internal/supervisor      — wires all of the above and drives startup/shutdown order
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"okx-ingestor/internal/config"
	"okx-ingestor/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})
	logger := slog.New(handler)

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize supervisor", "error", err)
		os.Exit(1)
	}

	sup.Start()
	logger.Info("ingestor started",
		"ws_url", cfg.WSURL,
		"instruments", cfg.Instruments,
		"channels", cfg.Channels,
		"metrics_port", cfg.MetricsPort,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("received shutdown signal")
	sup.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
