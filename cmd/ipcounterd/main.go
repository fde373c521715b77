// Command ipcounterd is a lightweight, always-on per-(IPv4, VLAN) traffic
// counter daemon. Usage: ipcounterd IFACE CONFIGFILE.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/netprobe/ipcounterd/common/go/logging"
	"github.com/netprobe/ipcounterd/common/go/xcmd"
	"github.com/netprobe/ipcounterd/internal/capture"
	"github.com/netprobe/ipcounterd/internal/config"
	"github.com/netprobe/ipcounterd/internal/sink"
	"github.com/netprobe/ipcounterd/internal/store"
	"github.com/netprobe/ipcounterd/internal/timer"
)

var logLevel string

func main() {
	root := &cobra.Command{
		Use:   "ipcounterd IFACE CONFIGFILE",
		Short: "Per-(IPv4, VLAN) traffic counter daemon",
		Long: `ipcounterd counts packets and bytes per (IPv4 address, VLAN) pair,
flushing a snapshot to a sink every interval.

Loopback and other local traffic where the source and destination address
are identical is counted on both sides of the pair: this mirrors the wire
and is a known source of apparent double-counting for such addresses, not
a bug.

SIGINT, SIGHUP, SIGQUIT and SIGTERM all request a graceful shutdown.
SIGUSR1 forces an immediate, out-of-band interval rotation; this
desynchronizes future samples from wall-clock boundaries and should be
reserved for operational emergencies.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1])
		},
	}

	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, iface, configPath string) error {
	var level zapcore.Level
	if err := level.Set(logLevel); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}

	log, atomicLevel, err := logging.Init(&logging.Config{Level: level})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer log.Sync()
	atomicLevel.SetLevel(level)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var filter *sink.RangeFilter
	if cfg.IPRangesFile != "" {
		ranges, err := sink.LoadRanges(cfg.IPRangesFile)
		if err != nil {
			return fmt.Errorf("load ip ranges file: %w", err)
		}
		filter = sink.NewRangeFilter(ranges)
	}

	sk, err := buildSink(cfg, configPath, filter, log)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}
	defer sk.Close()

	pair := store.NewPair(cfg.HashBits, cfg.BucketWidth, log)
	defer pair.Free()

	src, err := capture.NewRawSocketSource(iface, log)
	if err != nil {
		return fmt.Errorf("open capture source on %q: %w", iface, err)
	}
	defer src.Close()

	loop := capture.NewLoop(pair, log)
	tm := timer.New(pair, sk, timer.Config{Interval: cfg.Interval, SettleDelay: cfg.SettleDelay}, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return loop.Run(gctx, src)
	})
	group.Go(func() error {
		rotate := xcmd.WaitRotateSignal(gctx)
		return tm.Run(gctx, rotate)
	})
	group.Go(func() error {
		err := xcmd.WaitInterrupted(gctx)
		cancel()
		return err
	})

	if err := group.Wait(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			log.Infow("shutting down", "signal", interrupted.String())
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}

		var result *multierror.Error
		result = multierror.Append(result, err)
		return result.ErrorOrNil()
	}

	return nil
}

func buildSink(cfg *config.Config, configPath string, filter *sink.RangeFilter, log *zap.SugaredLogger) (sink.Sink, error) {
	if cfg.StorageHost == "" {
		return sink.NewConsoleSink(log, cfg.StoreZero, filter), nil
	}

	nodeName, err := sink.DeriveNodeName()
	if err != nil {
		return nil, fmt.Errorf("derive node name: %w", err)
	}

	return sink.NewMySQLSink(configPath, nodeName, filter, cfg.StoreZero, log), nil
}
