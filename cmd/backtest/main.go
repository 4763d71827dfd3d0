package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-backtest/internal/dataset"
	"github.com/meridian-lab/meridian-backtest/internal/engine"
	"github.com/meridian-lab/meridian-backtest/internal/logger"
)

// runAction loads the manifest and config, runs the backtest, and writes the
// results folder.
func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	configData, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config, err := engine.ParseConfig(configData)
	if err != nil {
		return err
	}

	manifest, err := dataset.LoadManifest(cmd.String("manifest"))
	if err != nil {
		return err
	}

	var vendor dataset.VendorClient
	if manifestNeedsVendor(manifest) {
		polygonClient, err := dataset.NewPolygonClient()
		if err != nil {
			return err
		}
		vendor = polygonClient
	}

	loader := dataset.NewLoader(vendor, log)
	u, err := loader.Load(ctx, manifest)
	if err != nil {
		return err
	}

	backtest, err := engine.NewEngine(config, u, log)
	if err != nil {
		return err
	}
	defer backtest.Close()

	var bar *progressbar.ProgressBar
	backtest.SetOnStep(func(step int, total int, _ time.Time) {
		if bar == nil {
			bar = progressbar.Default(int64(total), "backtest")
		}
		bar.Add(1)
	})

	result, err := backtest.Run(ctx)
	if err != nil {
		return err
	}

	resultsDir := cmd.String("results")
	if err := backtest.WriteResults(resultsDir, result); err != nil {
		return err
	}

	log.Info("backtest finished",
		zap.Float64("final_nav", result.FinalState.NAV),
		zap.Float64("total_return", result.Stats.TotalReturn),
		zap.Float64("max_drawdown", result.Stats.MaxDrawdown),
		zap.String("results", resultsDir),
	)

	return nil
}

func manifestNeedsVendor(manifest dataset.Manifest) bool {
	for _, entry := range manifest.Datasets {
		if entry.SourceType == dataset.SourceTypeVendor {
			return true
		}
	}

	return false
}

// schemaAction prints the JSON schema for the run configuration, for editor
// completion against config files.
func schemaAction(_ context.Context, _ *cli.Command) error {
	config := engine.DefaultConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return err
	}

	fmt.Println(schemaJSON)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Run a research backtest over a dataset manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the run configuration YAML",
				Value:   "config/backtest.yaml",
			},
			&cli.StringFlag{
				Name:    "manifest",
				Aliases: []string{"m"},
				Usage:   "Path to the datasets manifest YAML",
				Value:   "config/datasets.yaml",
			},
			&cli.StringFlag{
				Name:    "results",
				Aliases: []string{"r"},
				Usage:   "Directory for result artifacts",
				Value:   "results",
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the JSON schema for the run configuration",
				Action: schemaAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
