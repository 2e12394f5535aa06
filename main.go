package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/llehouerou/jukebox/internal/app"
	"github.com/llehouerou/jukebox/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file, loaded after ~/.config/jukebox/config.toml and ./config.toml")
	playerID := pflag.StringP("player", "p", "", "player ID (overrides player_id)")
	backend := pflag.String("backend", "", "sqlite or redis (overrides backend)")
	listen := pflag.String("listen", "", "console gateway address (overrides console.listen)")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *playerID != "" {
		cfg.PlayerID = *playerID
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *listen != "" {
		cfg.Console.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("jukebox stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	a, err := app.New(cfg, backend, logger)
	if err != nil {
		return err
	}

	// SIGHUP retries after reconnection was given up.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				a.Reconnect()
			case <-ctx.Done():
				return
			}
		}
	}()

	return a.Run(ctx)
}
