// Command decoder runs the capture-to-spool half of the system: raw
// 978 MHz capture lines in, curated product documents out. Sources
// are files, "-" for stdin, or host:port TCP feeds from the radio
// program.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stationwx/fisb978/internal/capture"
	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/feed"
	"github.com/stationwx/fisb978/internal/level3"
	"github.com/stationwx/fisb978/internal/pipeline"
	"github.com/stationwx/fisb978/internal/spool"
	"github.com/stationwx/fisb978/internal/stats"
)

const statsEvery = time.Minute

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		spoolDir   string
		archiveDir string
		adminAddr  string
	)

	cmd := &cobra.Command{
		Use:   "decoder [source ...]",
		Short: "Decode FIS-B capture lines into curated product documents",
		Long: "decoder parses ground uplink capture lines, reassembles segmented\n" +
			"and split products, synthesizes typed reports with full timestamps,\n" +
			"filters retransmissions and spools the remainder for the curator.\n\n" +
			"Sources are capture files, \"-\" for stdin, or host:port TCP feeds;\n" +
			"with no arguments the SOURCES environment variable is used, then\n" +
			"stdin.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if spoolDir != "" {
				cfg.SpoolDir = spoolDir
			}
			if archiveDir != "" {
				cfg.ArchiveDir = archiveDir
			}
			if adminAddr != "" {
				cfg.AdminAddr = adminAddr
			}
			applyLogLevel(cfg.LogLevel)
			return run(cmd.Context(), cfg, sourceList(args, os.Getenv("SOURCES")))
		},
	}

	cmd.Flags().StringVar(&spoolDir, "spool", "", "spool directory (overrides SPOOL_DIR)")
	cmd.Flags().StringVar(&archiveDir, "archive", "", "archive raw capture lines into day files under this directory")
	cmd.Flags().StringVar(&adminAddr, "admin", "", "listen address for the stats/metrics endpoint")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, sources []string) error {
	log := logrus.WithField("stage", "decoder")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meter := stats.New()

	var cache level3.Cache
	if cfg.RedisAddr != "" {
		c, err := level3.NewRedisCache(cfg.RedisAddr, cfg.RefreshFloor)
		if err != nil {
			return err
		}
		cache = c
	}

	var pub pipeline.Publisher
	if cfg.NATSURL != "" {
		f, err := feed.New(cfg.NATSURL, cfg.FeedRateLimit)
		if err != nil {
			return err
		}
		defer f.Close()
		pub = f
	}

	pipe, err := pipeline.New(cfg, clock.Wall{}, meter, cache, pub)
	if err != nil {
		return err
	}
	defer pipe.Close()

	var archive *spool.Archive
	if cfg.ArchiveDir != "" {
		archive, err = spool.NewArchive(cfg.ArchiveDir)
		if err != nil {
			return err
		}
		defer archive.Close()
	}

	if cfg.AdminAddr != "" {
		srv := &http.Server{Addr: cfg.AdminAddr, Handler: meter.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Admin endpoint failed")
			}
		}()
		defer srv.Close()
		log.WithField("addr", cfg.AdminAddr).Info("Admin endpoint listening")
	}

	reader := capture.New(sources)
	lines := reader.Start(ctx)
	go func() {
		<-ctx.Done()
		reader.Stop()
	}()

	ticker := time.NewTicker(statsEvery)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			log.Info("\n" + meter.String())
		}
	}()

	log.WithField("sources", strings.Join(sources, ",")).Info("Decoder started")
	for line := range lines {
		if archive != nil && strings.HasPrefix(line.Text, "+") {
			if err := archive.WriteLine(line.Text, time.Now().UTC()); err != nil {
				log.WithError(err).Error("Archive write failed")
			}
		}
		if err := pipe.ProcessLine(ctx, line.Text); err != nil {
			return err
		}
	}

	segs, orphans := pipe.Stats()
	log.WithFields(logrus.Fields{
		"segment_timeouts": segs,
		"twgo_orphans":     orphans,
	}).Info("Decoder finished")
	return nil
}

// sourceList resolves the capture sources: command line first, then
// the SOURCES variable, then stdin.
func sourceList(args []string, env string) []string {
	if len(args) > 0 {
		return args
	}
	var out []string
	for _, s := range strings.Split(env, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{"-"}
	}
	return out
}

func applyLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
