// Command harvest is the curator: the single writer of the product
// store. It drains the spool directory, applies every document,
// expires stale state, reconciles report lists and assembles the
// image rasters.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/harvest"
	"github.com/stationwx/fisb978/internal/location"
	"github.com/stationwx/fisb978/internal/stats"
	"github.com/stationwx/fisb978/internal/store"
)

// syncPoll is how often a test-mode start waits on the trickle sync
// file before checking again.
const syncPoll = 250 * time.Millisecond

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "harvest",
		Short:        "Curate the FIS-B product store",
		SilenceUsage: true,
	}

	var testGroup int
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest spool documents and maintain current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyLogLevel(cfg.LogLevel)
			return runCurator(cmd.Context(), cfg, testGroup)
		},
	}
	runCmd.Flags().IntVar(&testGroup, "test", 0,
		"replay test group: wait for the trickle sync file and dump state at each trigger")

	dumpCmd := &cobra.Command{
		Use:   "dump-vectors [dir]",
		Short: "Export current vector layers as CSV WKT files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyLogLevel(cfg.LogLevel)
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return withCurator(cfg, clock.Wall{}, func(c *harvest.Curator) error {
				return c.ExportVectors(dir)
			})
		},
	}

	sweepCmd := &cobra.Command{
		Use:   "expire-sweep",
		Short: "Run one maintenance pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyLogLevel(cfg.LogLevel)
			return withCurator(cfg, clock.Wall{}, func(c *harvest.Curator) error {
				return c.Sweep(cmd.Context())
			})
		},
	}

	root.AddCommand(runCmd, dumpCmd, sweepCmd)
	return root
}

// runCurator is the run subcommand: normal ingest, or a replay test
// group when testGroup is set.
func runCurator(ctx context.Context, cfg *config.Config, testGroup int) error {
	log := logrus.WithField("stage", "harvest")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Clock(clock.Wall{})
	var triggers []harvest.Trigger
	var resultsDir string

	if testGroup > 0 {
		var err error
		triggers, err = harvest.LoadTriggers(cfg.TriggerDir, testGroup)
		if err != nil {
			return err
		}
		resultsDir, err = harvest.PrepareResults(cfg.TriggerDir, testGroup, triggers)
		if err != nil {
			return err
		}

		log.WithField("sync_file", cfg.SyncFile).Info("Waiting for trickle sync file")
		delta, err := clock.WaitForSyncFile(ctx, cfg.SyncFile, syncPoll)
		if err != nil {
			return err
		}
		clk = clock.Offset{Delta: delta}
		log.WithFields(logrus.Fields{
			"group":  testGroup,
			"offset": delta,
			"now":    clk.Now().Format(time.RFC3339),
		}).Info("Virtual clock engaged")
	}

	return withCurator(cfg, clk, func(c *harvest.Curator) error {
		sink, err := stats.OpenSink(filepath.Join(cfg.ErrorDir, "harvest.err"))
		if err != nil {
			return err
		}
		defer sink.Close()
		c.SetSink(sink)

		if testGroup > 0 {
			c.EnableTriggers(triggers, resultsDir)
		}

		log.WithField("spool", cfg.SpoolDir).Info("Curator started")
		err = c.Run(ctx)
		if errors.Is(err, context.Canceled) {
			// A clean stop: the spool was drained before the
			// context fired the shutdown.
			err = nil
		}
		return err
	})
}

// withCurator connects the stores, builds a curator and hands it to
// fn, closing everything afterwards. The store connection retries
// with backoff up to the configured limit before giving up.
func withCurator(cfg *config.Config, clk clock.Clock, fn func(*harvest.Curator) error) error {
	db, err := connectStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var loc harvest.Locator
	if cfg.TextWxLocation || cfg.PirepLocation || cfg.SUALocation {
		ls, err := location.Open(cfg.LocationDB)
		if err != nil {
			logrus.WithError(err).WithField("path", cfg.LocationDB).
				Warn("Location database unavailable, enrichment disabled")
		} else {
			defer ls.Close()
			loc = ls
		}
	}

	return fn(harvest.New(cfg, db, loc, clk, stats.New()))
}

// connectStore opens the product store, retrying with exponential
// backoff while the database comes up.
func connectStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	backoff := time.Second
	deadline := time.Now().Add(cfg.RetryDBConn)
	for {
		err = db.Ping()
		if err == nil {
			return db, nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return nil, fmt.Errorf("store unreachable: %w", err)
		}
		logrus.WithError(err).WithField("retry_in", backoff).Warn("Store not ready")
		time.Sleep(backoff)
		if backoff < cfg.RetryDBConn {
			backoff *= 2
		}
	}
}

func applyLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
