package visualize

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

const densityPoints = 100

// Histogram is a frequency histogram of connection timestamps with an
// optional Gaussian KDE overlay scaled to counts.
type Histogram struct {
	Title  string
	XLabel string
	YLabel string
	Bins   []Bin
	// Density is empty when the timestamps have no spread
	Density []DensityPoint
	Total   int
}

// Bin counts entries in [Start, End)
type Bin struct {
	Start time.Time
	End   time.Time
	Count int
}

// DensityPoint is one sample of the smoothed density, in entries per bin
type DensityPoint struct {
	At    time.Time
	Value float64
}

// BinWidth returns the width of the histogram bins
func (h Histogram) BinWidth() time.Duration {
	if len(h.Bins) == 0 {
		return 0
	}
	return h.Bins[0].End.Sub(h.Bins[0].Start)
}

// MaxCount returns the largest bin count
func (h Histogram) MaxCount() int {
	m := 0
	for _, b := range h.Bins {
		if b.Count > m {
			m = b.Count
		}
	}
	return m
}

// BuildHistogram bins the entry timestamps. bins <= 0 selects Sturges' rule.
func BuildHistogram(entries []types.UsageEntry, bins int) Histogram {
	h := Histogram{
		Title:  "USB Device Connection Times",
		XLabel: "Timestamp",
		YLabel: "Frequency",
		Total:  len(entries),
	}
	if len(entries) == 0 {
		return h
	}

	xs := make([]float64, len(entries))
	for i, e := range entries {
		xs[i] = unixSeconds(e.Timestamp)
	}
	sort.Float64s(xs)

	if bins <= 0 {
		bins = int(math.Ceil(math.Log2(float64(len(xs))))) + 1
	}
	lo, hi := xs[0], xs[len(xs)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
		bins = 1
	}
	width := (hi - lo) / float64(bins)

	h.Bins = make([]Bin, bins)
	for i := range h.Bins {
		h.Bins[i].Start = fromSeconds(lo + float64(i)*width)
		h.Bins[i].End = fromSeconds(lo + float64(i+1)*width)
	}
	for _, x := range xs {
		i := int((x - lo) / width)
		// the maximum falls in the last bin
		if i >= bins {
			i = bins - 1
		}
		h.Bins[i].Count++
	}

	h.Density = kde(xs, lo, hi, width)
	return h
}

// kde evaluates a Gaussian kernel density with Scott's bandwidth on an even
// grid over [lo, hi], scaled by n*binWidth so it overlays the counts.
func kde(xs []float64, lo, hi, binWidth float64) []DensityPoint {
	n := float64(len(xs))
	std := stat.StdDev(xs, nil)
	if len(xs) < 2 || std == 0 || math.IsNaN(std) {
		return nil
	}
	bw := std * math.Pow(n, -0.2)
	norm := 1 / (n * bw * math.Sqrt(2*math.Pi))

	out := make([]DensityPoint, densityPoints)
	step := (hi - lo) / float64(densityPoints-1)
	for i := range out {
		at := lo + float64(i)*step
		var sum float64
		for _, x := range xs {
			u := (at - x) / bw
			sum += math.Exp(-0.5 * u * u)
		}
		out[i] = DensityPoint{At: fromSeconds(at), Value: sum * norm * n * binWidth}
	}
	return out
}

func fromSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
