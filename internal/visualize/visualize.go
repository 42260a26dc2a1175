package visualize

import (
	"fmt"
	"io"
	"strings"

	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// EmptyMessage is printed instead of rendering when there is no activity
const EmptyMessage = "No USB activity to visualize."

// OutputTerminal selects the terminal renderer
const OutputTerminal = "terminal"

// Renderer draws a histogram
type Renderer interface {
	Render(h Histogram) error
}

// NewRenderer returns the terminal renderer for "terminal" (or empty) output
// and a PNG renderer writing to output otherwise.
func NewRenderer(output string, w io.Writer) Renderer {
	if output == "" || strings.EqualFold(output, OutputTerminal) {
		return &TerminalRenderer{Out: w}
	}
	return &PNGRenderer{Path: output}
}

// Visualize renders the usage entries through r. With no entries it prints
// EmptyMessage to w and never calls r.
func Visualize(w io.Writer, entries []types.UsageEntry, r Renderer) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, EmptyMessage)
		return nil
	}

	h := BuildHistogram(entries, 0)
	logger.Debug("Rendering histogram: %d entries in %d bins", h.Total, len(h.Bins))
	if err := r.Render(h); err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	return nil
}
