package analysis

import (
	"math"
	"math/rand"
)

// eulerGamma is the Euler–Mascheroni constant used by the harmonic number approximation.
const eulerGamma = 0.5772156649015329

// maxTreeSamples caps the sub-sample drawn for each isolation tree.
const maxTreeSamples = 256

// isolationForest is an ensemble of random partitioning trees. Points that
// are isolated in fewer splits on average receive higher anomaly scores.
type isolationForest struct {
	trees   []*isoNode
	samples int
}

// isoNode is either an internal split or a leaf holding size points.
type isoNode struct {
	feature   int
	threshold float64
	left      *isoNode
	right     *isoNode
	size      int
}

func (n *isoNode) leaf() bool { return n.left == nil }

// fitForest builds nTrees trees over points, each from a sub-sample drawn
// without replacement of min(256, len(points)) rows.
func fitForest(points [][]float64, nTrees int, seed int64) *isolationForest {
	rng := rand.New(rand.NewSource(seed))
	samples := len(points)
	if samples > maxTreeSamples {
		samples = maxTreeSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(samples), 2))))

	f := &isolationForest{trees: make([]*isoNode, 0, nTrees), samples: samples}
	for t := 0; t < nTrees; t++ {
		idx := rng.Perm(len(points))[:samples]
		f.trees = append(f.trees, buildTree(points, idx, 0, maxDepth, rng))
	}
	return f
}

func buildTree(points [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{size: len(idx)}
	}

	// Try features in random order until one is not constant within the node.
	dims := len(points[idx[0]])
	for _, feature := range rng.Perm(dims) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := points[i][feature]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		threshold := lo + rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if points[i][feature] <= threshold {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		return &isoNode{
			feature:   feature,
			threshold: threshold,
			left:      buildTree(points, left, depth+1, maxDepth, rng),
			right:     buildTree(points, right, depth+1, maxDepth, rng),
			size:      len(idx),
		}
	}
	return &isoNode{size: len(idx)}
}

// pathLength is the depth at which x lands in a leaf, plus the expected
// remaining depth of an unbuilt tree over the leaf's points.
func pathLength(n *isoNode, x []float64) float64 {
	depth := 0
	for !n.leaf() {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// score returns the anomaly score in (0, 1]; higher is more anomalous.
func (f *isolationForest) score(x []float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, x)
	}
	mean := total / float64(len(f.trees))
	norm := averagePathLength(f.samples)
	if norm == 0 {
		return 1
	}
	return math.Pow(2, -mean/norm)
}

// averagePathLength is the average path length of an unsuccessful search in
// a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n)
	return 2*(math.Log(m-1)+eulerGamma) - 2*(m-1)/m
}

// outliers flags the points whose score lies above the (1-contamination)
// percentile of all scores.
func (f *isolationForest) outliers(points [][]float64, contamination float64) []bool {
	neg := make([]float64, len(points))
	for i, p := range points {
		neg[i] = -f.score(p)
	}
	offset := percentile(neg, 100*contamination)

	flags := make([]bool, len(points))
	for i, v := range neg {
		flags[i] = v < offset
	}
	return flags
}
