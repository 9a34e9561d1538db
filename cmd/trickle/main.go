// Command trickle replays an archived capture file at its original
// pace. It computes the offset between the archive's clock and the
// wall clock, publishes it through the sync file so the curator can
// run on virtual time, and then releases each line as its moment
// comes around again.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stationwx/fisb978/internal/clock"
	"github.com/stationwx/fisb978/internal/config"
	"github.com/stationwx/fisb978/internal/pipeline"
	"github.com/stationwx/fisb978/internal/stats"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var decode bool

	cmd := &cobra.Command{
		Use:   "trickle <capture.978>",
		Short: "Replay an archived capture file on virtual time",
		Long: "trickle replays a .978 capture file with the original inter-line\n" +
			"timing. The virtual clock offset goes into the sync file so a\n" +
			"curator running with --test follows the replay. Lines go to stdout\n" +
			"by default; --decode runs them through the decode pipeline and\n" +
			"spools the products directly.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyLogLevel(cfg.LogLevel)
			return run(cmd.Context(), cfg, args[0], decode)
		},
	}

	cmd.Flags().BoolVar(&decode, "decode", false,
		"decode replayed lines in-process and write products to the spool")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, path string, decode bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	emit := func(line string) error {
		_, err := fmt.Println(line)
		return err
	}
	if decode {
		pipe, err := pipeline.New(cfg, clock.Wall{}, stats.New(), nil, nil)
		if err != nil {
			return err
		}
		defer pipe.Close()
		emit = func(line string) error {
			return pipe.ProcessLine(ctx, line)
		}
	}

	return replay(ctx, cfg, f, emit)
}

// replay paces the capture lines from r through emit. The first
// uplink line anchors the virtual clock INITIAL_DELAY before its
// receive time, giving the curator room to engage before traffic
// starts.
func replay(ctx context.Context, cfg *config.Config, r io.Reader, emit func(string) error) error {
	log := logrus.WithField("stage", "trickle")

	// A leftover sync file from an aborted run would feed the curator
	// a stale offset.
	clock.RemoveSyncFile(cfg.SyncFile)

	var clk clock.Offset
	started := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") || line[0] != '+' {
			continue
		}
		at, ok := lineTime(line)
		if !ok {
			log.WithField("line", line[:min(40, len(line))]).Warn("Uplink line without receive time")
			continue
		}

		if !started {
			delta := at.Add(-cfg.InitialDelay).Sub(time.Now().UTC())
			clk = clock.Offset{Delta: delta}
			if err := clock.WriteSyncFile(cfg.SyncFile, delta); err != nil {
				return err
			}
			defer clock.RemoveSyncFile(cfg.SyncFile)
			log.WithFields(logrus.Fields{
				"first":  at.Format(time.RFC3339),
				"offset": delta,
			}).Info("Replay started")
			started = true
		}

		if err := clk.SleepUntil(ctx, at); err != nil {
			return err
		}
		if err := emit(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if started {
		log.Info("Replay finished")
	}
	return nil
}

// lineTime extracts the ";t=<unix-seconds>;" receive time of a
// capture line.
func lineTime(line string) (time.Time, bool) {
	i := strings.Index(line, ";t=")
	if i < 0 {
		return time.Time{}, false
	}
	rest := line[i+3:]
	j := strings.IndexByte(rest, ';')
	if j < 0 {
		return time.Time{}, false
	}
	secs, err := strconv.ParseFloat(rest[:j], 64)
	if err != nil {
		return time.Time{}, false
	}
	sec := int64(secs)
	nsec := int64((secs - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}

func applyLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
