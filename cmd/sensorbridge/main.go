package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/sensorbridge/internal/config"
	"codeberg.org/mutker/sensorbridge/internal/errors"
	"codeberg.org/mutker/sensorbridge/internal/gateway"
	"codeberg.org/mutker/sensorbridge/internal/logger"
	"codeberg.org/mutker/sensorbridge/internal/pid"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	if err := run(cfg); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Gateway failed")
		} else {
			logger.Error().Err(err).Msg("Gateway failed")
		}
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if cfg.PIDFile != "" {
		if err := pid.Write(cfg.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := pid.Remove(cfg.PIDFile); err != nil {
				logger.Warn().Err(err).Msg("failed to remove PID file")
			}
		}()
	}

	log := logger.Default()

	g, err := gateway.Build(cfg, log)
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel)

	return g.Run(ctx)
}

func handleSignals(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case <-sigs:
		logger.Info().Msg("Received termination signal.")
		cancel()
	case <-ctx.Done():
	}
}
