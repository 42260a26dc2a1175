// Package output handles CLI output formatting
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

const (
	// Header printed before the device report
	Header = "USB Device History with Advanced Security Features:"
	// AlertLine is printed under a device that failed the extension check
	AlertLine = "  ** ALERT: Potentially Malicious Files Found **"
	// RegistryNotFound is printed when the USBSTOR root is absent
	RegistryNotFound = "Registry path not found."
	// UnsupportedOS is printed when the live registry is unavailable
	UnsupportedOS = "This tool is intended to run on Windows systems only."
)

var (
	alertStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true)
	anomalyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b6b7b"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
)

// Options for output handler
type Options struct {
	Quiet   bool
	Verbose bool
	JSON    bool
	Out     io.Writer
}

// Handler manages CLI output
type Handler struct {
	opts Options
	out  io.Writer
}

// New creates a new output handler writing to opts.Out, or stdout
func New(opts Options) *Handler {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Handler{opts: opts, out: out}
}

// Writer returns the destination of human-readable output
func (h *Handler) Writer() io.Writer {
	return h.out
}

func (h *Handler) silent() bool {
	return h.opts.Quiet || h.opts.JSON
}

// PrintHeader prints the report header
func (h *Handler) PrintHeader() {
	if h.silent() {
		return
	}
	fmt.Fprintln(h.out, Header)
	fmt.Fprintln(h.out)
}

// PrintStep prints a pipeline step in verbose mode
func (h *Handler) PrintStep(current, total int, message string) {
	if h.silent() || !h.opts.Verbose {
		return
	}
	fmt.Fprintln(h.out, dimStyle.Render(fmt.Sprintf("[%d/%d] %s", current, total, message)))
}

// PrintDevice prints one device as it is read
func (h *Handler) PrintDevice(d types.DeviceRecord) {
	if h.silent() {
		return
	}
	fmt.Fprintf(h.out, "Device: %s\n", d.FriendlyName)
	fmt.Fprintf(h.out, "  ID: %s\n", d.DeviceID)
	fmt.Fprintf(h.out, "  Manufacturer: %s\n", d.Manufacturer)
	fmt.Fprintf(h.out, "  First Install Date: %s\n", formatInstall(d.FirstInstall))
	if h.opts.Verbose && d.KeyPath != "" {
		fmt.Fprintln(h.out, dimStyle.Render("  Key: "+d.KeyPath))
	}
}

// PrintAlert prints the suspicious-extension alert line for a device
func (h *Handler) PrintAlert() {
	if h.silent() {
		return
	}
	fmt.Fprintln(h.out, alertStyle.Render(AlertLine))
}

// PrintDeviceEnd closes a device block
func (h *Handler) PrintDeviceEnd() {
	if h.silent() {
		return
	}
	fmt.Fprintln(h.out, strings.Repeat("-", 40))
}

// PrintAnalysis prints flagged entries or the analyzer message
func (h *Handler) PrintAnalysis(r *types.AnalysisReport) {
	if h.silent() || r == nil {
		return
	}
	if r.Demo {
		fmt.Fprintln(h.out, dimStyle.Render("(demo mode: anomalies computed on placeholder features)"))
	}
	for _, a := range r.Anomalies {
		fmt.Fprintln(h.out, anomalyStyle.Render(fmt.Sprintf("Anomaly detected: %s at %s",
			a.DeviceID, a.Timestamp.Format("2006-01-02 15:04:05.000000"))))
	}
	if r.Message != "" {
		fmt.Fprintln(h.out, r.Message)
	}
}

// PrintWatchEvent prints one device connection seen by the watcher
func (h *Handler) PrintWatchEvent(e types.UsageEntry) {
	if h.silent() {
		return
	}
	fmt.Fprintf(h.out, "%s  %s %s\n", dimStyle.Render(e.Timestamp.Format("15:04:05")), e.Action, e.DeviceID)
}

// PrintSummary prints the scan summary
func (h *Handler) PrintSummary(result *types.ScanResult, duration time.Duration) {
	if h.silent() {
		return
	}

	sent, failed := 0, 0
	for _, a := range result.Alerts {
		if a.Sent {
			sent++
		} else if a.Error != "" {
			failed++
		}
	}

	fmt.Fprintln(h.out)
	fmt.Fprintln(h.out, okStyle.Render(fmt.Sprintf("Scan complete (%.1fs)", duration.Seconds())))
	fmt.Fprintf(h.out, "  Devices:    %d\n", len(result.Devices))
	fmt.Fprintf(h.out, "  Detections: %d\n", len(result.Detections))
	fmt.Fprintf(h.out, "  Alerts:     %d sent, %d failed\n", sent, failed)
	if result.Report != nil {
		fmt.Fprintf(h.out, "  Anomalies:  %d (%s)\n", len(result.Report.Anomalies), result.Report.Strategy)
	}
}

// PrintError prints an error message
func (h *Handler) PrintError(format string, args ...interface{}) {
	if h.opts.JSON {
		return
	}
	fmt.Fprintf(h.out, "ERROR: "+format+"\n", args...)
}

// PrintJSON writes the result as indented JSON when JSON output is selected
func (h *Handler) PrintJSON(result *types.ScanResult) error {
	if !h.opts.JSON {
		return nil
	}
	enc := json.NewEncoder(h.out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// SaveResults saves scan results to a JSON file in outputDir
func (h *Handler) SaveResults(result *types.ScanResult, outputDir string) (string, error) {
	filename := fmt.Sprintf("usb_scan_%s.json", result.ScanTime.Format("2006-01-02_150405"))
	fullPath := filepath.Join(outputDir, filename)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}

	if !h.silent() {
		fmt.Fprintf(h.out, "Full results: %s\n", fullPath)
	}
	return fullPath, nil
}

func formatInstall(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(types.DisplayLayout)
}
