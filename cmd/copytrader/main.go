package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-copytrader/internal/config"
	"polymarket-copytrader/internal/engine"
)

func main() {
	cfg, usage, err := config.FromArgs(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		fmt.Println("Usage: copytrader [flags]")
		fmt.Println(usage)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "flag error:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	eng := engine.New(cfg, logger)

	logger.Info("starting copy trader",
		"source", cfg.Source,
		"mode", cfg.Mode,
		"profile", cfg.Profile,
	)

	if err := eng.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received", "signal", sig.String())
	case <-eng.SelfStopped():
	}

	eng.Stop()
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
