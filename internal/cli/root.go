// Package cli wires configuration, logging and the scan and watch pipelines
// into the usbsentinel command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
)

var version = "dev" // set by the linker

// Execute runs the command line against os.Args and returns the exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args and maps errors to exit codes: 0 on success, 1 otherwise.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	defer logger.Close()
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, collector.ErrRootNotFound):
		fmt.Fprintln(stdout, output.RegistryNotFound)
	case errors.Is(err, collector.ErrUnsupportedOS):
		fmt.Fprintln(stdout, output.UnsupportedOS)
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	logger.Error("Exiting with error: %v", err)
	return 1
}

// options holds flags that are not configuration keys
type options struct {
	cfgFile string
	json    bool
	quiet   bool
	saveDir string
	tui     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "usbsentinel",
		Short: "USB device history with suspicious-device alerts and activity analysis",
		Long: `usbsentinel enumerates USB mass-storage devices recorded under
HKLM\SYSTEM\CurrentControlSet\Enum\USBSTOR, runs a suspicious-extension check
on each device, optionally emails an alert, and analyzes connection times
with k-means or an isolation forest.

Running without a subcommand performs a scan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Version = version

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is <user config dir>/usbsentinel/usbsentinel.yaml or ./usbsentinel.yaml)")
	pf.Bool("demo", false, "enable demo mode (allows placeholder analysis features)")
	pf.Bool("strict", true, "treat missing or malformed registry values as fatal")
	pf.String("snapshot", "", "read USBSTOR from a YAML snapshot instead of the live registry")
	pf.String("setupapi-log", "", "setupapi.dev.log used for install dates in lenient mode")
	pf.Bool("alert", true, "email an alert for suspicious devices")
	pf.StringSlice("approved-device", nil, "serial number or device ID that is never alerted on (repeatable)")
	pf.String("alert-policy", string(config.AlertFailureLog), `what to do when an alert cannot be sent ("log" or "propagate")`)
	pf.String("strategy", string(config.StrategyClustering), `analysis strategy ("clustering", "isolation-forest" or "none")`)
	pf.String("features", string(config.FeaturesTemporal), `isolation forest features ("temporal" or "random", random needs --demo)`)
	pf.Int64("seed", 0, "random seed for clustering and isolation forest")
	pf.Int("estimators", 100, "isolation forest tree count")
	pf.Float64("contamination", 0.1, "isolation forest expected anomaly fraction")
	pf.Bool("plot", true, "render a histogram of connection times")
	pf.String("plot-output", "terminal", `"terminal" or an image path such as activity.png`)
	pf.Bool("debug-log", false, "write a JSON debug log file")
	pf.String("log-dir", ".", "directory of the debug log file")
	pf.BoolP("verbose", "v", false, "log to the console")

	addScanFlags(cmd, opts)

	cmd.AddCommand(newScanCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newSnapshotCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig resolves configuration for cmd and starts logging
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg, err := config.Load(cmd, opts.cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		return cfg, fmt.Errorf("init logger: %w", err)
	}
	if cfg.DemoMode {
		logger.Warn("Demo mode: detections and placeholder features are not real evidence")
	}
	return cfg, nil
}

// openHive returns the snapshot hive when configured, else the live registry
func openHive(cfg config.Config) (collector.Hive, error) {
	if cfg.Registry.Snapshot != "" {
		logger.Info("Reading registry snapshot %s", cfg.Registry.Snapshot)
		hive, err := collector.LoadSnapshot(cfg.Registry.Snapshot)
		if err != nil {
			return nil, err
		}
		return hive, nil
	}
	if !collector.IsSupportedOS() {
		return nil, collector.ErrUnsupportedOS
	}
	return collector.NewLiveHive()
}

func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, metrics.New(reg)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "usbsentinel %s\n", version)
		},
	}
}
