// Package scan provides the scan service that runs the reader, the
// extension check, alerting, analysis and visualization in order.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digggggmori-pixel/usbsentinel/internal/alert"
	"github.com/digggggmori-pixel/usbsentinel/internal/analyzer"
	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/detector"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/internal/visualize"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// Service manages the scan lifecycle
type Service struct {
	ctx  context.Context
	cfg  config.Config
	deps Deps
}

// NewService creates a new scan service
func NewService(ctx context.Context, cfg config.Config, deps Deps) *Service {
	if deps.Usage == nil {
		deps.Usage = usagelog.New()
	}
	if deps.Output == nil {
		deps.Output = output.New(output.Options{})
	}
	if deps.Renderer == nil {
		deps.Renderer = visualize.NewRenderer(cfg.Visualize.Output, deps.Output.Writer())
	}
	return &Service{ctx: ctx, cfg: cfg, deps: deps}
}

// Usage returns the usage log the scan appends to
func (s *Service) Usage() *usagelog.Log {
	return s.deps.Usage
}

const totalSteps = 3

// Execute runs the pipeline once.
// Step 1: read USBSTOR, checking and alerting on each device as it is read
// Step 2: analyze the usage log
// Step 3: visualize the usage log
//
// A missing registry root fails before anything is printed. On a read or
// propagated alert error the partial result is returned with the error.
func (s *Service) Execute() (*types.ScanResult, error) {
	startTime := time.Now()
	defer s.deps.Metrics.ObserveScan(startTime)

	if s.deps.Hive == nil {
		return nil, errors.New("no registry hive configured")
	}

	result := &types.ScanResult{
		RunID:      uuid.New().String(),
		ScanTime:   startTime,
		Host:       collector.GetHostInfo(),
		Devices:    make([]types.DeviceRecord, 0),
		Detections: make([]types.Detection, 0),
		Alerts:     make([]types.AlertOutcome, 0),
	}
	logger.Info("Scan %s started", result.RunID)

	det := detector.New(s.cfg.ApprovedDevices...)
	sender := alert.NewSender(s.cfg.Alert, s.deps.Mailer, s.deps.Metrics)
	out := s.deps.Output

	handleRecord := func(rec types.DeviceRecord) error {
		s.deps.Metrics.IncrementDevicesRead()
		out.PrintDevice(rec)

		if d := det.Check(rec); d != nil {
			s.deps.Metrics.IncrementDetections()
			result.Detections = append(result.Detections, *d)
			out.PrintAlert()

			outcome, err := sender.Send(s.ctx, rec.DeviceID, detector.AlertMessage(d))
			result.Alerts = append(result.Alerts, outcome)
			if err != nil {
				return err
			}
			if outcome.Error != "" {
				out.PrintError("alert for %s not sent: %s", rec.DeviceID, outcome.Error)
			}
		}

		out.PrintDeviceEnd()
		return nil
	}

	// ── Step 1: Registry ──
	reader := collector.NewUSBHistoryCollector(s.deps.Hive,
		collector.WithRoot(s.cfg.Registry.Path),
		collector.WithStrict(s.cfg.Registry.Strict),
		collector.WithSetupAPILog(s.cfg.Registry.SetupAPILog),
		collector.WithUsageLog(s.deps.Usage),
		collector.WithRecordHandler(handleRecord),
	)
	if err := reader.CheckRoot(); err != nil {
		return nil, err
	}
	logger.Info("[1/%d] Reading USB history", totalSteps)
	s.deps.Output.PrintStep(1, totalSteps, "Reading USB history...")
	logger.SubSection("USBSTOR enumeration")

	out.PrintHeader()
	devices, err := reader.Collect()
	result.Devices = append(result.Devices, devices...)
	if err != nil {
		result.ScanDurationMs = time.Since(startTime).Milliseconds()
		return result, err
	}

	// ── Steps 2-3: Analysis and visualization ──
	report, err := s.Analyze(s.deps.Usage.Entries())
	result.Report = report
	result.ScanDurationMs = time.Since(startTime).Milliseconds()
	if err != nil {
		return result, err
	}

	logger.Info("Scan %s complete: %d devices, %d detections", result.RunID, len(result.Devices), len(result.Detections))
	return result, nil
}

// Analyze runs the configured analyzer and visualizer over entries and
// prints the outcome. It is also used by the watch command on exit.
func (s *Service) Analyze(entries []types.UsageEntry) (*types.AnalysisReport, error) {
	logger.Info("[2/%d] Analyzing activity", totalSteps)
	s.deps.Output.PrintStep(2, totalSteps, "Analyzing activity...")
	report, err := analyzer.New(s.cfg.Analysis, s.cfg.DemoMode, s.deps.Metrics).Analyze(entries)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	s.deps.Output.PrintAnalysis(report)

	if !s.cfg.Visualize.Enabled {
		return report, nil
	}
	logger.Info("[3/%d] Visualizing activity", totalSteps)
	s.deps.Output.PrintStep(3, totalSteps, "Visualizing activity...")
	if err := visualize.Visualize(s.deps.Output.Writer(), entries, s.deps.Renderer); err != nil {
		return report, err
	}
	return report, nil
}
