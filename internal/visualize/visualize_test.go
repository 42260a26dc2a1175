package visualize

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

type recordingRenderer struct {
	calls []Histogram
	err   error
}

func (r *recordingRenderer) Render(h Histogram) error {
	r.calls = append(r.calls, h)
	return r.err
}

func entries(hours ...int) []types.UsageEntry {
	out := make([]types.UsageEntry, len(hours))
	for i, h := range hours {
		out[i] = types.UsageEntry{
			DeviceID:  "dev",
			Timestamp: time.Date(2024, 5, 1, h, 0, 0, 0, time.UTC),
			Action:    types.ActionConnected,
		}
	}
	return out
}

func TestVisualizeEmptyIsNoop(t *testing.T) {
	var buf bytes.Buffer
	r := &recordingRenderer{}

	require.NoError(t, Visualize(&buf, nil, r))
	assert.Equal(t, EmptyMessage+"\n", buf.String())
	assert.Empty(t, r.calls)
}

func TestVisualizeRenders(t *testing.T) {
	var buf bytes.Buffer
	r := &recordingRenderer{}

	require.NoError(t, Visualize(&buf, entries(2, 2, 3, 14), r))
	require.Len(t, r.calls, 1)
	assert.Empty(t, buf.String())
	assert.Equal(t, 4, r.calls[0].Total)
}

func TestVisualizeWrapsRenderError(t *testing.T) {
	boom := errors.New("boom")
	err := Visualize(&bytes.Buffer{}, entries(1), &recordingRenderer{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestBuildHistogram(t *testing.T) {
	h := BuildHistogram(entries(2, 2, 2, 2, 2, 2, 2, 2, 2, 14), 0)

	// Sturges: ceil(log2(10)) + 1
	require.Len(t, h.Bins, 5)
	total := 0
	for _, b := range h.Bins {
		total += b.Count
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 9, h.Bins[0].Count)
	assert.Equal(t, 1, h.Bins[4].Count)
	assert.Equal(t, 9, h.MaxCount())
	assert.Equal(t, 144*time.Minute, h.BinWidth())
	assert.Len(t, h.Density, densityPoints)
	assert.Equal(t, "USB Device Connection Times", h.Title)
	assert.Equal(t, "Timestamp", h.XLabel)
	assert.Equal(t, "Frequency", h.YLabel)
}

func TestBuildHistogramSingleTimestamp(t *testing.T) {
	h := BuildHistogram(entries(5, 5, 5), 0)
	require.Len(t, h.Bins, 1)
	assert.Equal(t, 3, h.Bins[0].Count)
	assert.Empty(t, h.Density)
}

func TestDensityPeaksNearCluster(t *testing.T) {
	h := BuildHistogram(entries(2, 2, 2, 2, 2, 2, 2, 2, 2, 14), 0)
	assert.Equal(t, 0, peakBin(h))
}

func TestTerminalRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer("terminal", &buf)

	require.NoError(t, Visualize(&buf, entries(2, 2, 14), r))
	out := buf.String()
	assert.Contains(t, out, "USB Device Connection Times")
	assert.Contains(t, out, "█")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// title, axis label, blank line, 3 bins
	assert.Len(t, lines, 6)
}

func TestNewRenderer(t *testing.T) {
	assert.IsType(t, &TerminalRenderer{}, NewRenderer("", nil))
	assert.IsType(t, &TerminalRenderer{}, NewRenderer("Terminal", nil))
	assert.IsType(t, &PNGRenderer{}, NewRenderer("activity.png", nil))
}

func TestPNGRenderer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.png")
	r := NewRenderer(path, nil)

	require.NoError(t, Visualize(&bytes.Buffer{}, entries(1, 2, 2, 3, 9, 14), r))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
