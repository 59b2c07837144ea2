package anomaly

import (
	"math"
	"math/rand"

	"brewlytics/ml"
)

const (
	defaultSubsample = 256
	eulerGamma       = 0.5772156649015329
)

// treeNode is one node of an isolation tree. Leaves carry the size of the
// sample that reached them; internal nodes carry the split.
type treeNode struct {
	Feature int       `json:"f,omitempty"`
	Split   float64   `json:"s,omitempty"`
	Left    *treeNode `json:"l,omitempty"`
	Right   *treeNode `json:"r,omitempty"`
	Size    int       `json:"n,omitempty"`
}

// Forest is a fitted isolation forest. Scores follow the scikit-learn
// orientation: Score returns a value in (-1, 0), and HIGHER means MORE
// normal. The whole structure is JSON-serializable for the artefact.
type Forest struct {
	Trees      []*treeNode `json:"trees"`
	SampleSize int         `json:"sample_size"`
	Seed       int64       `json:"seed"`
}

// FitForest grows nEstimators isolation trees over the standardized training
// matrix. The seed pins the subsampling and split draws, so retraining on the
// same window reproduces the same forest.
func FitForest(x [][]float64, nEstimators int, seed int64) (*Forest, error) {
	if len(x) == 0 || len(x[0]) == 0 {
		return nil, &ml.ValidationError{Field: "feature_matrix", Reason: "empty"}
	}
	if nEstimators <= 0 {
		nEstimators = 100
	}

	sample := defaultSubsample
	if sample > len(x) {
		sample = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample)))) + 1

	rng := rand.New(rand.NewSource(seed))
	f := &Forest{
		Trees:      make([]*treeNode, 0, nEstimators),
		SampleSize: sample,
		Seed:       seed,
	}
	for t := 0; t < nEstimators; t++ {
		idx := rng.Perm(len(x))[:sample]
		rows := make([][]float64, sample)
		for i, j := range idx {
			rows[i] = x[j]
		}
		f.Trees = append(f.Trees, growTree(rows, 0, maxDepth, rng))
	}
	return f, nil
}

func growTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(rows) <= 1 || depth >= maxDepth {
		return &treeNode{Size: len(rows)}
	}

	// Pick among features that still vary in this partition
	p := len(rows[0])
	splittable := make([]int, 0, p)
	for j := 0; j < p; j++ {
		lo, hi := columnRange(rows, j)
		if hi > lo {
			splittable = append(splittable, j)
		}
	}
	if len(splittable) == 0 {
		return &treeNode{Size: len(rows)}
	}

	feature := splittable[rng.Intn(len(splittable))]
	lo, hi := columnRange(rows, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &treeNode{
		Feature: feature,
		Split:   split,
		Left:    growTree(left, depth+1, maxDepth, rng),
		Right:   growTree(right, depth+1, maxDepth, rng),
	}
}

func columnRange(rows [][]float64, j int) (lo, hi float64) {
	lo, hi = rows[0][j], rows[0][j]
	for _, row := range rows[1:] {
		if row[j] < lo {
			lo = row[j]
		}
		if row[j] > hi {
			hi = row[j]
		}
	}
	return lo, hi
}

// Score returns the forest score for one standardized row, in (-1, 0) with
// higher meaning more normal.
func (f *Forest) Score(row []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.Trees))
	return -math.Pow(2, -avg/avgPathLength(f.SampleSize))
}

func pathLength(node *treeNode, row []float64, depth float64) float64 {
	if node.Left == nil {
		return depth + avgPathLength(node.Size)
	}
	if row[node.Feature] < node.Split {
		return pathLength(node.Left, row, depth+1)
	}
	return pathLength(node.Right, row, depth+1)
}

// avgPathLength is c(n), the expected unsuccessful-search path length in a
// BST of n nodes. It normalizes raw depths across subsample sizes.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + eulerGamma
		return 2*h - 2*float64(n-1)/float64(n)
	}
}
