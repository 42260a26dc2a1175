package analyzer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const kmeansMaxIter = 300

// Standardize returns the z-scores of values using the population standard
// deviation. A constant column standardizes to all zeros.
func Standardize(values []float64) []float64 {
	mean, std := stat.PopMeanStdDev(values, nil)
	out := make([]float64, len(values))
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// KMeans clusters points into k groups with k-means++ seeding followed by
// Lloyd iterations. It returns the centroids and the label of every point.
// k must be between 1 and len(points).
func KMeans(points [][]float64, k int, rng *rand.Rand) ([][]float64, []int) {
	centroids := seedPlusPlus(points, k, rng)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	dim := len(points[0])
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i, p := range points {
			c, _ := nearest(p, centroids)
			if labels[i] != c {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centroids {
			// empty clusters keep their previous centroid
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
	}
	return centroids, labels
}

// NearestDistances returns the Euclidean distance of every point to its closest centroid
func NearestDistances(points, centroids [][]float64) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		_, out[i] = nearest(p, centroids)
	}
	return out
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clonePoint(points[rng.Intn(len(points))]))

	weights := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			_, d := nearest(p, centroids)
			weights[i] = d * d
			total += weights[i]
		}

		next := rng.Intn(len(points))
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range weights {
				target -= w
				if target < 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, clonePoint(points[next]))
	}
	return centroids
}

func nearest(p []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := floats.Distance(p, centroid, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func clonePoint(p []float64) []float64 {
	out := make([]float64, len(p))
	copy(out, p)
	return out
}
