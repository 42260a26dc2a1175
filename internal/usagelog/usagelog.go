// Package usagelog holds the in-memory sequence of observed USB connections
// shared by the registry reader, the watcher and the analyzer.
package usagelog

import (
	"sync"
	"time"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// Log is an append-only, process-lifetime list of usage entries. Entries
// are neither persisted nor deduplicated.
type Log struct {
	mu      sync.RWMutex
	entries []types.UsageEntry
	now     func() time.Time
}

// New creates an empty log stamped with the wall clock
func New() *Log {
	return &Log{now: time.Now}
}

// NewWithClock creates an empty log stamped by now
func NewWithClock(now func() time.Time) *Log {
	return &Log{now: now}
}

// RecordConnection appends a Connected entry for deviceID at the current time
func (l *Log) RecordConnection(deviceID string) types.UsageEntry {
	entry := types.UsageEntry{
		DeviceID:  deviceID,
		Timestamp: l.now(),
		Action:    types.ActionConnected,
	}
	l.Append(entry)
	return entry
}

// Append adds an entry as-is
func (l *Log) Append(entry types.UsageEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of all entries in insertion order
func (l *Log) Entries() []types.UsageEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.UsageEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
