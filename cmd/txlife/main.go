package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/txlife/internal/config"
	"github.com/rovshanmuradov/txlife/internal/logger"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "txlife",
		Usage: "Track blockchain transactions from submission to finality",
		Description: `Every tracked transaction moves forward through pending, mined and finalized,
or ends in a classified error. Lifecycle events can be journaled to CSV and
published to NATS JetStream.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			watchCommand(),
			simulateCommand(),
			historyCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a JSON or YAML configuration file",
				EnvVars: []string{"TXLIFE_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// loadRuntime loads the configuration and builds the process logger.
func loadRuntime(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.Bool("debug") {
		cfg.DebugLogging = true
	}

	logCfg := logger.DefaultConfig()
	logCfg.Debug = cfg.DebugLogging
	logCfg.LogFile = cfg.LogFile
	return cfg, logger.New(logCfg), nil
}
