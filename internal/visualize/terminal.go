package visualize

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const barWidth = 40

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5eead4")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b6b7b"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5eead4"))
	peakStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b"))
)

// TerminalRenderer prints the histogram as horizontal bars
type TerminalRenderer struct {
	Out io.Writer
}

// Render writes one line per bin. The bin nearest the density peak is marked.
func (r *TerminalRenderer) Render(h Histogram) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(h.Title))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf("%s (bin width %s) vs %s", h.XLabel, h.BinWidth().Round(time.Second), h.YLabel)))
	b.WriteString("\n\n")

	peak := peakBin(h)
	maxCount := h.MaxCount()
	for i, bin := range h.Bins {
		n := 0
		if maxCount > 0 {
			n = bin.Count * barWidth / maxCount
		}
		if bin.Count > 0 && n == 0 {
			n = 1
		}
		bar := barStyle.Render(strings.Repeat("█", n))
		marker := " "
		if i == peak {
			marker = peakStyle.Render("◆")
		}
		fmt.Fprintf(&b, "%s %s %s %d\n",
			labelStyle.Render(bin.Start.Local().Format("2006-01-02 15:04:05")),
			marker, bar, bin.Count)
	}

	_, err := io.WriteString(r.Out, b.String())
	return err
}

// peakBin returns the index of the bin containing the density maximum, or -1
func peakBin(h Histogram) int {
	if len(h.Density) == 0 {
		return -1
	}
	best := h.Density[0]
	for _, d := range h.Density[1:] {
		if d.Value > best.Value {
			best = d
		}
	}
	for i, bin := range h.Bins {
		if !best.At.Before(bin.Start) && best.At.Before(bin.End) {
			return i
		}
	}
	return len(h.Bins) - 1
}
