package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kirillkom/command-router/internal/config"
	"github.com/kirillkom/command-router/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "command-router",
		Usage: "Local command router and retrieval-augmented query service",
		Commands: []*cli.Command{
			serveCommand(),
			selfCheckCommand(),
			classifyCommand(),
			indexCommand(),
			historyCommand(),
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates configuration and installs the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := loadOfflineConfig()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadOfflineConfig skips validation of the serving settings; offline commands check what they use.
func loadOfflineConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(logging.New(logging.Options{Service: cfg.ServiceName, Version: cfg.Version, Level: cfg.LogLevel, Format: cfg.LogFormat}))
	return cfg, nil
}
