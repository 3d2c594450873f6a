package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/shared"
)

const defaultConfigPath = "config.toml"

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat(defaultConfigPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(defaultConfigPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "path", defaultConfigPath, "error", err)
		}
	}

	if err := shared.ApplyLogLevel(logger, config.Log.Level); err != nil {
		logger.Warn("ignoring log level", "error", err)
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: defaultConfigPath,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:    "miroir",
		Usage:   "Offline layer for the Miroir site: asset cache, submission outbox and background sync",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
			},
		},
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}
