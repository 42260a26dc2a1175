package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/scan"
	"github.com/digggggmori-pixel/usbsentinel/internal/tui"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/internal/watcher"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

func newWatchCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record USB device connections in real time until interrupted, then analyze",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			source, err := collector.NewUSBEventSource()
			if err != nil {
				return err
			}
			return runWatch(cmd, opts, cfg.Metrics.Addr, source, func(usage *usagelog.Log, out *output.Handler, m *metrics.Metrics) error {
				svc := scan.NewService(context.Background(), cfg, scan.Deps{Output: out, Usage: usage, Metrics: m})
				_, err := svc.Analyze(usage.Entries())
				return err
			})
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while watching")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live terminal view")
	return cmd
}

type analyzeFunc func(usage *usagelog.Log, out *output.Handler, m *metrics.Metrics) error

// runWatch blocks until the context is cancelled (or the TUI quits), then
// analyzes everything recorded.
func runWatch(cmd *cobra.Command, opts *options, metricsAddr string, source watcher.EventSource, analyze analyzeFunc) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	reg, m := newMetrics()
	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		}()
	}

	usage := usagelog.New()
	out := output.New(output.Options{Out: cmd.OutOrStdout()})

	var watchErr error
	if opts.tui {
		watchErr = watchWithTUI(ctx, cancel, source, usage, m, metricsAddr)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Watching for USB devices. Press Ctrl+C to stop.")
		w := watcher.New(source, usage, watcher.WithMetrics(m), watcher.WithEntryHandler(out.PrintWatchEvent))
		watchErr = w.Run(ctx)
	}
	if watchErr != nil {
		return watchErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d connections recorded.\n", usage.Len())
	return analyze(usage, out, m)
}

func watchWithTUI(ctx context.Context, cancel context.CancelFunc, source watcher.EventSource, usage *usagelog.Log, m *metrics.Metrics, metricsAddr string) error {
	entries := make(chan types.UsageEntry, 16)
	done := make(chan error, 1)
	finished := make(chan struct{})

	w := watcher.New(source, usage, watcher.WithMetrics(m), watcher.WithEntryHandler(func(e types.UsageEntry) {
		select {
		case entries <- e:
		default:
			logger.Debug("TUI behind, dropped display of %s", e.DeviceID)
		}
	}))
	go func() {
		defer close(finished)
		done <- w.Run(ctx)
	}()

	model := tui.NewWatchModel(collector.GetHostInfo(), cancel, entries, done)
	if metricsAddr != "" {
		model = model.WithInfo("metrics on " + metricsAddr)
	}
	err := tui.RunWatch(model)

	cancel()
	<-finished
	return err
}
