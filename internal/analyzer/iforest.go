package analyzer

import (
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649015329

// IsolationForest is an ensemble of random isolation trees. Points that are
// isolated after fewer random splits get higher anomaly scores.
type IsolationForest struct {
	trees      []*iNode
	sampleSize int
}

type iNode struct {
	feature int
	split   float64
	left    *iNode
	right   *iNode
	size    int
}

// FitIsolationForest grows estimators trees, each on a random subsample of
// at most maxSamples rows of X.
func FitIsolationForest(X [][]float64, estimators, maxSamples int, rng *rand.Rand) *IsolationForest {
	sampleSize := maxSamples
	if sampleSize <= 0 || sampleSize > len(X) {
		sampleSize = len(X)
	}
	heightLimit := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &IsolationForest{
		trees:      make([]*iNode, 0, estimators),
		sampleSize: sampleSize,
	}
	for i := 0; i < estimators; i++ {
		sample := subsample(X, sampleSize, rng)
		f.trees = append(f.trees, growTree(sample, 0, heightLimit, rng))
	}
	return f
}

// Score returns the anomaly score of x in (0, 1]. Scores near 1 are anomalies,
// scores well below 0.5 are normal.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(x, t, 0)
	}
	mean := total / float64(len(f.trees))

	norm := averagePathLength(f.sampleSize)
	if norm == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/norm)
}

// Scores returns Score for every row of X
func (f *IsolationForest) Scores(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = f.Score(x)
	}
	return out
}

func growTree(X [][]float64, depth, limit int, rng *rand.Rand) *iNode {
	if depth >= limit || len(X) <= 1 {
		return &iNode{size: len(X)}
	}

	// only split on features that still vary
	var candidates []int
	for q := range X[0] {
		lo, hi := columnRange(X, q)
		if lo < hi {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(X)}
	}

	q := candidates[rng.Intn(len(candidates))]
	lo, hi := columnRange(X, q)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, x := range X {
		if x[q] < split {
			left = append(left, x)
		} else {
			right = append(right, x)
		}
	}

	return &iNode{
		feature: q,
		split:   split,
		left:    growTree(left, depth+1, limit, rng),
		right:   growTree(right, depth+1, limit, rng),
		size:    len(X),
	}
}

func pathLength(x []float64, n *iNode, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	if x[n.feature] < n.split {
		return pathLength(x, n.left, depth+1)
	}
	return pathLength(x, n.right, depth+1)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST search
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

func columnRange(X [][]float64, q int) (float64, float64) {
	lo, hi := X[0][q], X[0][q]
	for _, x := range X[1:] {
		lo = math.Min(lo, x[q])
		hi = math.Max(hi, x[q])
	}
	return lo, hi
}

func subsample(X [][]float64, size int, rng *rand.Rand) [][]float64 {
	if size >= len(X) {
		return X
	}
	idx := rng.Perm(len(X))[:size]
	out := make([][]float64, size)
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}
