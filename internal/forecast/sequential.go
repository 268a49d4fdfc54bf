package forecast

import (
	"math"
	"math/rand"

	"github.com/aircast/aircast/internal/models"
)

// Sequential training hyperparameters.
const (
	sequentialHidden    = 32
	sequentialMaxEpochs = 30
	sequentialBatchSize = 16
	sequentialLearnRate = 0.01
	sequentialPatience  = 10
	sequentialMinDelta  = 1e-4
	sequentialSeed      = 42
)

// SequentialModel consumes an ordered window directly and predicts all
// target measurements jointly: a single hidden layer over the
// flattened window with standardised targets.
type SequentialModel struct {
	SequenceLength int
	NumFeatures    int
	HiddenSize     int
	NumTargets     int

	W1 [][]float64 // hidden x input
	B1 []float64
	W2 [][]float64 // targets x hidden
	B2 []float64

	// target standardisation, undone at prediction time
	TargetMean []float64
	TargetStd  []float64
}

// TrainSequential fits the network with an internal validation split
// and early stopping once validation loss stops improving.
func TrainSequential(sequences []Sequence, sequenceLength int, validationSplit float64) (*SequentialModel, int, float64) {
	rng := rand.New(rand.NewSource(sequentialSeed))

	inputs := make([][]float64, len(sequences))
	targets := make([][]float64, len(sequences))
	for i, seq := range sequences {
		inputs[i] = flattenWindow(seq.Window)
		targets[i] = seq.Target
	}

	m := newSequentialModel(sequenceLength, rng)
	m.fitTargetScale(targets)
	scaled := make([][]float64, len(targets))
	for i, t := range targets {
		scaled[i] = m.scaleTarget(t)
	}

	// shuffled train/validation split
	perm := rng.Perm(len(inputs))
	nVal := int(float64(len(inputs)) * validationSplit)
	if nVal < 1 {
		nVal = 1
	}
	valIdx := perm[:nVal]
	trainIdx := perm[nVal:]

	bestLoss := math.Inf(1)
	var best *SequentialModel
	bestEpoch := 0
	sinceImprove := 0

	for epoch := 1; epoch <= sequentialMaxEpochs; epoch++ {
		shuffled := rng.Perm(len(trainIdx))
		for start := 0; start < len(shuffled); start += sequentialBatchSize {
			end := start + sequentialBatchSize
			if end > len(shuffled) {
				end = len(shuffled)
			}
			batch := make([]int, 0, end-start)
			for _, p := range shuffled[start:end] {
				batch = append(batch, trainIdx[p])
			}
			m.sgdStep(inputs, scaled, batch)
		}

		valLoss := m.meanLoss(inputs, scaled, valIdx)
		if valLoss < bestLoss-sequentialMinDelta {
			bestLoss = valLoss
			best = m.clone()
			bestEpoch = epoch
			sinceImprove = 0
		} else {
			sinceImprove++
			if sinceImprove >= sequentialPatience {
				break
			}
		}
	}

	if best == nil {
		return m, sequentialMaxEpochs, m.meanLoss(inputs, scaled, valIdx)
	}
	return best, bestEpoch, bestLoss
}

func newSequentialModel(sequenceLength int, rng *rand.Rand) *SequentialModel {
	inputSize := sequenceLength * models.NumFeatures
	m := &SequentialModel{
		SequenceLength: sequenceLength,
		NumFeatures:    models.NumFeatures,
		HiddenSize:     sequentialHidden,
		NumTargets:     models.NumTargets,
		W1:             make([][]float64, sequentialHidden),
		B1:             make([]float64, sequentialHidden),
		W2:             make([][]float64, models.NumTargets),
		B2:             make([]float64, models.NumTargets),
	}
	// Xavier-style init
	scale1 := math.Sqrt(2.0 / float64(inputSize+sequentialHidden))
	for h := range m.W1 {
		m.W1[h] = make([]float64, inputSize)
		for j := range m.W1[h] {
			m.W1[h][j] = rng.NormFloat64() * scale1
		}
	}
	scale2 := math.Sqrt(2.0 / float64(sequentialHidden+models.NumTargets))
	for t := range m.W2 {
		m.W2[t] = make([]float64, sequentialHidden)
		for h := range m.W2[t] {
			m.W2[t][h] = rng.NormFloat64() * scale2
		}
	}
	return m
}

func (m *SequentialModel) fitTargetScale(targets [][]float64) {
	m.TargetMean = make([]float64, m.NumTargets)
	m.TargetStd = make([]float64, m.NumTargets)
	n := float64(len(targets))
	for t := 0; t < m.NumTargets; t++ {
		sum := 0.0
		for _, row := range targets {
			sum += row[t]
		}
		mean := sum / n
		varSum := 0.0
		for _, row := range targets {
			d := row[t] - mean
			varSum += d * d
		}
		std := math.Sqrt(varSum / n)
		if std == 0 {
			std = 1
		}
		m.TargetMean[t] = mean
		m.TargetStd[t] = std
	}
}

func (m *SequentialModel) scaleTarget(row []float64) []float64 {
	out := make([]float64, len(row))
	for t, v := range row {
		out[t] = (v - m.TargetMean[t]) / m.TargetStd[t]
	}
	return out
}

func (m *SequentialModel) forward(x []float64) (hidden, out []float64) {
	hidden = make([]float64, m.HiddenSize)
	for h := range hidden {
		sum := m.B1[h]
		w := m.W1[h]
		for j, v := range x {
			sum += w[j] * v
		}
		hidden[h] = math.Tanh(sum)
	}
	out = make([]float64, m.NumTargets)
	for t := range out {
		sum := m.B2[t]
		w := m.W2[t]
		for h, v := range hidden {
			sum += w[h] * v
		}
		out[t] = sum
	}
	return hidden, out
}

// sgdStep applies one mini-batch gradient step on half-MSE loss.
func (m *SequentialModel) sgdStep(inputs, scaled [][]float64, batch []int) {
	lr := sequentialLearnRate / float64(len(batch))

	for _, i := range batch {
		x := inputs[i]
		y := scaled[i]
		hidden, out := m.forward(x)

		// output layer deltas
		dOut := make([]float64, m.NumTargets)
		for t := range dOut {
			dOut[t] = out[t] - y[t]
		}

		// hidden deltas through tanh
		dHidden := make([]float64, m.HiddenSize)
		for h := range dHidden {
			sum := 0.0
			for t := range dOut {
				sum += dOut[t] * m.W2[t][h]
			}
			dHidden[h] = sum * (1 - hidden[h]*hidden[h])
		}

		for t := range m.W2 {
			g := dOut[t]
			for h := range m.W2[t] {
				m.W2[t][h] -= lr * g * hidden[h]
			}
			m.B2[t] -= lr * g
		}
		for h := range m.W1 {
			g := dHidden[h]
			if g == 0 {
				continue
			}
			w := m.W1[h]
			for j, v := range x {
				w[j] -= lr * g * v
			}
			m.B1[h] -= lr * g
		}
	}
}

func (m *SequentialModel) meanLoss(inputs, scaled [][]float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	total := 0.0
	for _, i := range idx {
		_, out := m.forward(inputs[i])
		for t, v := range out {
			d := v - scaled[i][t]
			total += d * d
		}
	}
	return total / float64(len(idx)*m.NumTargets)
}

func (m *SequentialModel) predict(window [][]float64) []float64 {
	_, out := m.forward(flattenWindow(window))
	pred := make([]float64, m.NumTargets)
	for t, v := range out {
		pred[t] = v*m.TargetStd[t] + m.TargetMean[t]
	}
	return pred
}

func (m *SequentialModel) clone() *SequentialModel {
	c := &SequentialModel{
		SequenceLength: m.SequenceLength,
		NumFeatures:    m.NumFeatures,
		HiddenSize:     m.HiddenSize,
		NumTargets:     m.NumTargets,
		B1:             append([]float64(nil), m.B1...),
		B2:             append([]float64(nil), m.B2...),
		TargetMean:     append([]float64(nil), m.TargetMean...),
		TargetStd:      append([]float64(nil), m.TargetStd...),
	}
	c.W1 = make([][]float64, len(m.W1))
	for h := range m.W1 {
		c.W1[h] = append([]float64(nil), m.W1[h]...)
	}
	c.W2 = make([][]float64, len(m.W2))
	for t := range m.W2 {
		c.W2[t] = append([]float64(nil), m.W2[t]...)
	}
	return c
}
