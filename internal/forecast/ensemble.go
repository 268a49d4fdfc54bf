package forecast

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/aircast/aircast/internal/models"
)

// Ensemble hyperparameters, sized for small embedded hosts.
const (
	ensembleTrees    = 50
	ensembleMaxDepth = 15
	ensembleMinLeaf  = 2
	ensembleSeed     = 42
)

// Tree is one regression tree node. A node with nil children is a leaf
// carrying a value.
type Tree struct {
	Feature   int
	Threshold float64
	Value     float64
	Left      *Tree
	Right     *Tree
}

func (t *Tree) predict(x []float64) float64 {
	for t.Left != nil {
		if x[t.Feature] <= t.Threshold {
			t = t.Left
		} else {
			t = t.Right
		}
	}
	return t.Value
}

// EnsembleModel holds one independent forest of bagged regression
// trees per target measurement, trained on flattened windows.
type EnsembleModel struct {
	SequenceLength int
	NumFeatures    int
	Forests        [][]*Tree
}

// TrainEnsemble fits one forest per target on the flattened windows.
func TrainEnsemble(sequences []Sequence, sequenceLength int) *EnsembleModel {
	flat := make([][]float64, len(sequences))
	for i, seq := range sequences {
		flat[i] = flattenWindow(seq.Window)
	}

	rng := rand.New(rand.NewSource(ensembleSeed))
	m := &EnsembleModel{
		SequenceLength: sequenceLength,
		NumFeatures:    models.NumFeatures,
		Forests:        make([][]*Tree, models.NumTargets),
	}

	targets := make([]float64, len(sequences))
	for t := 0; t < models.NumTargets; t++ {
		for i, seq := range sequences {
			targets[i] = seq.Target[t]
		}
		m.Forests[t] = trainForest(flat, targets, rng)
	}
	return m
}

func (m *EnsembleModel) predict(window [][]float64) []float64 {
	x := flattenWindow(window)
	out := make([]float64, len(m.Forests))
	for t, forest := range m.Forests {
		sum := 0.0
		for _, tree := range forest {
			sum += tree.predict(x)
		}
		out[t] = sum / float64(len(forest))
	}
	return out
}

func flattenWindow(window [][]float64) []float64 {
	if len(window) == 0 {
		return nil
	}
	flat := make([]float64, 0, len(window)*len(window[0]))
	for _, row := range window {
		flat = append(flat, row...)
	}
	return flat
}

func trainForest(xs [][]float64, ys []float64, rng *rand.Rand) []*Tree {
	forest := make([]*Tree, ensembleTrees)
	idx := make([]int, len(xs))
	for t := 0; t < ensembleTrees; t++ {
		// bootstrap sample
		for i := range idx {
			idx[i] = rng.Intn(len(xs))
		}
		forest[t] = buildTree(xs, ys, idx, 0, rng)
	}
	return forest
}

func buildTree(xs [][]float64, ys []float64, idx []int, depth int, rng *rand.Rand) *Tree {
	if depth >= ensembleMaxDepth || len(idx) <= 2*ensembleMinLeaf {
		return leaf(ys, idx)
	}

	feature, threshold, ok := bestRandomSplit(xs, ys, idx, rng)
	if !ok {
		return leaf(ys, idx)
	}

	var left, right []int
	for _, i := range idx {
		if xs[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < ensembleMinLeaf || len(right) < ensembleMinLeaf {
		return leaf(ys, idx)
	}

	return &Tree{
		Feature:   feature,
		Threshold: threshold,
		Left:      buildTree(xs, ys, left, depth+1, rng),
		Right:     buildTree(xs, ys, right, depth+1, rng),
	}
}

func leaf(ys []float64, idx []int) *Tree {
	sum := 0.0
	for _, i := range idx {
		sum += ys[i]
	}
	return &Tree{Value: sum / float64(len(idx))}
}

// bestRandomSplit draws one random threshold per candidate feature and
// keeps the split with the lowest weighted squared error.
func bestRandomSplit(xs [][]float64, ys []float64, idx []int, rng *rand.Rand) (int, float64, bool) {
	dims := len(xs[idx[0]])
	candidates := dims / 3
	if candidates < 1 {
		candidates = 1
	}

	bestScore := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	for c := 0; c < candidates; c++ {
		feature := rng.Intn(dims)

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := xs[i][feature]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi <= lo {
			continue
		}
		threshold := lo + rng.Float64()*(hi-lo)

		score, ok := splitScore(xs, ys, idx, feature, threshold)
		if ok && score < bestScore {
			bestScore = score
			bestFeature = feature
			bestThreshold = threshold
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func splitScore(xs [][]float64, ys []float64, idx []int, feature int, threshold float64) (float64, bool) {
	var lSum, rSum float64
	var lN, rN int
	for _, i := range idx {
		if xs[i][feature] <= threshold {
			lSum += ys[i]
			lN++
		} else {
			rSum += ys[i]
			rN++
		}
	}
	if lN < ensembleMinLeaf || rN < ensembleMinLeaf {
		return 0, false
	}
	lMean := lSum / float64(lN)
	rMean := rSum / float64(rN)

	var sse float64
	for _, i := range idx {
		var d float64
		if xs[i][feature] <= threshold {
			d = ys[i] - lMean
		} else {
			d = ys[i] - rMean
		}
		sse += d * d
	}
	return sse, true
}

// trainingMetrics reports fit quality of a trained ensemble on its own
// training sequences.
func (m *EnsembleModel) trainingMetrics(sequences []Sequence) map[string]TargetMetrics {
	metrics := make(map[string]TargetMetrics, models.NumTargets)
	absErr := make([][]float64, models.NumTargets)
	sqErr := make([][]float64, models.NumTargets)

	for _, seq := range sequences {
		pred := m.predict(seq.Window)
		for t := 0; t < models.NumTargets; t++ {
			d := pred[t] - seq.Target[t]
			absErr[t] = append(absErr[t], math.Abs(d))
			sqErr[t] = append(sqErr[t], d*d)
		}
	}
	for t, name := range models.TargetNames {
		metrics[name] = TargetMetrics{
			MAE:  stat.Mean(absErr[t], nil),
			RMSE: math.Sqrt(stat.Mean(sqErr[t], nil)),
		}
	}
	return metrics
}
