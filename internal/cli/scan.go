package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/digggggmori-pixel/usbsentinel/internal/alert"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/scan"
	"github.com/digggggmori-pixel/usbsentinel/internal/visualize"
)

func newScanCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Read USB history once, check and alert, then analyze",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}
	addScanFlags(cmd, opts)
	return cmd
}

func addScanFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the scan result as JSON")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "print nothing but errors; exit status reports the outcome")
	cmd.Flags().StringVar(&opts.saveDir, "save-dir", "", "also save the scan result as JSON in this directory")
}

func runScan(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	// keep stdout parseable, or empty
	terminalPlot := cfg.Visualize.Output == "" || strings.EqualFold(cfg.Visualize.Output, visualize.OutputTerminal)
	if opts.json || (opts.quiet && terminalPlot) {
		cfg.Visualize.Enabled = false
	}

	hive, err := openHive(cfg)
	if err != nil {
		return err
	}

	_, m := newMetrics()
	out := output.New(output.Options{
		JSON:    opts.json,
		Quiet:   opts.quiet,
		Verbose: cfg.Log.Console,
		Out:     cmd.OutOrStdout(),
	})

	start := time.Now()
	svc := scan.NewService(cmd.Context(), cfg, scan.Deps{
		Hive:    hive,
		Mailer:  alert.NewSMTPMailer(cfg.Alert),
		Output:  out,
		Metrics: m,
	})

	result, err := svc.Execute()
	if err != nil {
		return err
	}

	out.PrintSummary(result, time.Since(start))
	if err := out.PrintJSON(result); err != nil {
		return err
	}
	if opts.saveDir != "" {
		if _, err := out.SaveResults(result, opts.saveDir); err != nil {
			return err
		}
	}
	if path := logger.GetLogPath(); path != "" {
		logger.Info("Debug log: %s", path)
	}
	return nil
}
