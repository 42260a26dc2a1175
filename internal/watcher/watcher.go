// Package watcher appends a usage entry for every USB device creation event
// until it is cancelled.
package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/internal/usagelog"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// EventSource yields the device ID of each newly connected device.
// Next blocks until an event arrives, the source fails or ctx is done.
type EventSource interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// Watcher is a single-subscriber loop over an EventSource
type Watcher struct {
	source  EventSource
	usage   *usagelog.Log
	metrics *metrics.Metrics
	onEntry func(types.UsageEntry)
}

// Option configures a Watcher
type Option func(*Watcher)

// WithMetrics counts events on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) { w.metrics = m }
}

// WithEntryHandler calls fn synchronously after each entry is appended
func WithEntryHandler(fn func(types.UsageEntry)) Option {
	return func(w *Watcher) { w.onEntry = fn }
}

// New creates a Watcher appending to usage
func New(source EventSource, usage *usagelog.Log, opts ...Option) *Watcher {
	w := &Watcher{source: source, usage: usage}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run handles events one at a time until ctx is cancelled. Cancellation is
// the normal way to stop and returns nil. The source is closed on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.source.Close()

	logger.Section("Real-time USB Watch")
	log := logger.WithComponent("watcher")
	for {
		deviceID, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				log.Info().Int("entries", w.usage.Len()).Msg("watch stopped")
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}

		entry := w.usage.RecordConnection(deviceID)
		w.metrics.IncrementWatcherEvents()
		log.Info().Str("device_id", deviceID).Msg("USB device connected")
		if w.onEntry != nil {
			w.onEntry(entry)
		}
	}
}
