package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
)

// Metrics tracks device reads, detections, alerts, watcher events and
// analyzer results. A nil *Metrics is valid and records nothing.
type Metrics struct {
	DevicesRead      prometheus.Counter
	Detections       prometheus.Counter
	AlertsSent       prometheus.Counter
	AlertsFailed     prometheus.Counter
	WatcherEvents    prometheus.Counter
	AnomaliesFlagged *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
}

// New registers all usbsentinel metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DevicesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbsentinel_devices_read_total",
			Help: "Total number of USBSTOR device records read",
		}),
		Detections: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbsentinel_detections_total",
			Help: "Total number of suspicious extension detections",
		}),
		AlertsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbsentinel_alerts_sent_total",
			Help: "Total number of alert emails delivered to the relay",
		}),
		AlertsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbsentinel_alerts_failed_total",
			Help: "Total number of alert emails that could not be sent",
		}),
		WatcherEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "usbsentinel_watcher_events_total",
			Help: "Total number of USB device creation events observed",
		}),
		AnomaliesFlagged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "usbsentinel_anomalies_flagged_total",
			Help: "Total number of usage entries flagged as anomalous",
		}, []string{"strategy"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "usbsentinel_scan_duration_seconds",
			Help:    "Duration of full scan runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

// IncrementDevicesRead records one device record read from the registry.
func (m *Metrics) IncrementDevicesRead() {
	if m == nil {
		return
	}
	m.DevicesRead.Inc()
}

// IncrementDetections records one heuristic hit.
func (m *Metrics) IncrementDetections() {
	if m == nil {
		return
	}
	m.Detections.Inc()
}

// IncrementAlertsSent records a delivered alert.
func (m *Metrics) IncrementAlertsSent() {
	if m == nil {
		return
	}
	m.AlertsSent.Inc()
}

// IncrementAlertsFailed records a failed alert.
func (m *Metrics) IncrementAlertsFailed() {
	if m == nil {
		return
	}
	m.AlertsFailed.Inc()
}

// IncrementWatcherEvents records one device creation event.
func (m *Metrics) IncrementWatcherEvents() {
	if m == nil {
		return
	}
	m.WatcherEvents.Inc()
}

// AddAnomalies records n flagged entries for strategy.
func (m *Metrics) AddAnomalies(strategy string, n int) {
	if m == nil {
		return
	}
	m.AnomaliesFlagged.WithLabelValues(strategy).Add(float64(n))
}

// ObserveScan records the duration of a scan run.
// Call with time.Now() at the start of the run.
func (m *Metrics) ObserveScan(start time.Time) {
	if m == nil {
		return
	}
	m.ScanDuration.Observe(time.Since(start).Seconds())
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log := logger.WithComponent("metrics")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Debug().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
