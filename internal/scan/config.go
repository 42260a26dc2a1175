package scan

import (
	"github.com/digggggmori-pixel/usbsentinel/internal/alert"
	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/output"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/internal/visualize"
)

// Deps holds the external systems a scan talks to
type Deps struct {
	Hive     collector.Hive
	Mailer   alert.Mailer
	Renderer visualize.Renderer
	Output   *output.Handler
	// Usage receives one entry per device read; a fresh log is used when nil
	Usage   *usagelog.Log
	Metrics *metrics.Metrics
}
