package analyzer

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/digggggmori-pixel/usbsentinel/internal/config"
	"github.com/digggggmori-pixel/usbsentinel/internal/logger"
	"github.com/digggggmori-pixel/usbsentinel/internal/metrics"
	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

// ErrNotEnoughData is returned when a strategy needs more usage entries than it got
var ErrNotEnoughData = errors.New("not enough data for anomaly detection")

// Report messages
const (
	MsgNotEnoughData = "Not enough data for anomaly detection."
	MsgNoAnomalies   = "No anomalies detected."
	MsgDisabled      = "Anomaly analysis disabled."
)

// Analyzer runs the configured anomaly strategy over a usage log snapshot
type Analyzer struct {
	cfg      config.AnalysisConfig
	demoMode bool
	metrics  *metrics.Metrics
}

// New creates an Analyzer. m may be nil.
func New(cfg config.AnalysisConfig, demoMode bool, m *metrics.Metrics) *Analyzer {
	return &Analyzer{cfg: cfg, demoMode: demoMode, metrics: m}
}

// Analyze runs the configured strategy. Insufficient data is reported in the
// returned report, not as an error.
func (a *Analyzer) Analyze(entries []types.UsageEntry) (*types.AnalysisReport, error) {
	logger.Section("Activity Analysis")
	start := time.Now()
	defer logger.Timing("Activity analysis", start)

	strategy := a.cfg.Strategy
	if strategy == "" {
		strategy = config.StrategyClustering
	}
	report := &types.AnalysisReport{Strategy: string(strategy)}

	var (
		anomalies []types.Anomaly
		threshold float64
		err       error
	)
	switch strategy {
	case config.StrategyNone:
		report.Message = MsgDisabled
		return report, nil
	case config.StrategyClustering:
		anomalies, threshold, err = DetectClustering(entries, a.cfg.Clusters, a.percentile(), a.cfg.Seed)
	case config.StrategyIsolationForest:
		var features [][]float64
		features, err = a.features(entries)
		if err != nil {
			return nil, err
		}
		report.Demo = a.cfg.Features == config.FeaturesRandom
		anomalies, threshold, err = DetectIsolationForest(entries, features, a.cfg.Forest, a.cfg.Seed)
	default:
		return nil, fmt.Errorf("unknown analysis strategy %q", strategy)
	}

	if errors.Is(err, ErrNotEnoughData) {
		logger.Info("Analysis skipped: %d entries", len(entries))
		report.Message = MsgNotEnoughData
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	report.Anomalies = anomalies
	report.Threshold = threshold
	if len(anomalies) == 0 {
		report.Message = MsgNoAnomalies
	}
	a.metrics.AddAnomalies(report.Strategy, len(anomalies))
	logger.Info("Analysis (%s): %d of %d entries flagged, threshold %.4f",
		report.Strategy, len(anomalies), len(entries), threshold)
	return report, nil
}

func (a *Analyzer) percentile() float64 {
	if a.cfg.Percentile <= 0 || a.cfg.Percentile >= 100 {
		return 95
	}
	return a.cfg.Percentile
}

func (a *Analyzer) features(entries []types.UsageEntry) ([][]float64, error) {
	switch a.cfg.Features {
	case config.FeaturesRandom:
		if !a.demoMode {
			return nil, errors.New("random isolation forest features require demo mode")
		}
		logger.Warn("Isolation forest is running on random placeholder features; its anomalies are meaningless")
		return RandomFeatures(len(entries), rand.New(rand.NewSource(a.cfg.Seed))), nil
	case config.FeaturesTemporal, "":
		return TemporalFeatures(entries), nil
	default:
		return nil, fmt.Errorf("unknown feature source %q", a.cfg.Features)
	}
}

// DetectClustering flags entries whose connection hour lies far from every
// k-means centroid. Distances above the given percentile are anomalies.
//
// When the hour feature has no more distinct values than k, k is reduced to
// distinct-1 so that distances stay informative; a single distinct hour means
// nothing can be an outlier.
func DetectClustering(entries []types.UsageEntry, k int, percentile float64, seed int64) ([]types.Anomaly, float64, error) {
	if k < 1 {
		k = 3
	}
	if len(entries) < k {
		return nil, 0, ErrNotEnoughData
	}

	hours := make([]float64, len(entries))
	for i, e := range entries {
		hours[i] = float64(e.Timestamp.Hour())
	}

	distinct := countDistinct(hours)
	if distinct <= k {
		k = distinct - 1
	}
	if k < 1 {
		logger.Debug("Clustering: single distinct hour, nothing to flag")
		return nil, 0, nil
	}

	scaled := Standardize(hours)
	points := make([][]float64, len(scaled))
	for i, v := range scaled {
		points[i] = []float64{v}
	}

	centroids, _ := KMeans(points, k, rand.New(rand.NewSource(seed)))
	distances := NearestDistances(points, centroids)
	threshold := Percentile(distances, percentile)

	return flagAbove(entries, distances, threshold), threshold, nil
}

// DetectIsolationForest fits a forest on features (one row per entry) and
// flags the top contamination fraction by anomaly score.
func DetectIsolationForest(entries []types.UsageEntry, features [][]float64, cfg config.ForestConfig, seed int64) ([]types.Anomaly, float64, error) {
	if len(entries) < 2 || len(features) != len(entries) {
		return nil, 0, ErrNotEnoughData
	}

	estimators := cfg.Estimators
	if estimators < 1 {
		estimators = 100
	}
	contamination := cfg.Contamination
	if contamination <= 0 || contamination > 0.5 {
		contamination = 0.1
	}

	forest := FitIsolationForest(features, estimators, cfg.MaxSamples, rand.New(rand.NewSource(seed)))
	scores := forest.Scores(features)
	threshold := Percentile(scores, 100*(1-contamination))

	return flagAbove(entries, scores, threshold), threshold, nil
}

// TemporalFeatures returns (hour of day, day of week) per entry
func TemporalFeatures(entries []types.UsageEntry) [][]float64 {
	out := make([][]float64, len(entries))
	for i, e := range entries {
		out[i] = []float64{float64(e.Timestamp.Hour()), float64(e.Timestamp.Weekday())}
	}
	return out
}

// RandomFeatures returns n rows of two uniform placeholder features
func RandomFeatures(n int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{rng.Float64(), rng.Float64()}
	}
	return out
}

func flagAbove(entries []types.UsageEntry, scores []float64, threshold float64) []types.Anomaly {
	var out []types.Anomaly
	for i, s := range scores {
		if s > threshold {
			out = append(out, types.Anomaly{
				DeviceID:  entries[i].DeviceID,
				Timestamp: entries[i].Timestamp,
				Score:     s,
			})
		}
	}
	return out
}

func countDistinct(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen)
}
