package forecast

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/aircast/aircast/internal/models"
)

// DefaultSequenceLength is 60 readings per window, five hours of
// history at the 5-minute cadence.
const DefaultSequenceLength = 60

// Scaler standardises feature columns to zero mean and unit variance.
// A fitted scaler is part of the model state and is persisted with it.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes per-column mean and standard deviation over the
// supplied feature rows.
func FitScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}
	cols := len(rows[0])
	sc := &Scaler{
		Mean: make([]float64, cols),
		Std:  make([]float64, cols),
	}
	col := make([]float64, len(rows))
	for j := 0; j < cols; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			// constant column, avoid dividing by zero
			std = 1
		}
		sc.Mean[j] = mean
		sc.Std[j] = std
	}
	return sc
}

func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Sequence is one fixed-length window of scaled feature rows paired
// with the unscaled target vector at the window's end.
type Sequence struct {
	Window [][]float64
	Target []float64
}

// SequenceBuilder turns time-ordered readings into scaled windows and
// aligned targets. Fit once on training data; reuse the fitted scaler
// for inference windows.
type SequenceBuilder struct {
	Length int
	scaler *Scaler
}

func NewSequenceBuilder(length int) *SequenceBuilder {
	if length <= 0 {
		length = DefaultSequenceLength
	}
	return &SequenceBuilder{Length: length}
}

func (b *SequenceBuilder) Scaler() *Scaler {
	return b.scaler
}

// SetScaler installs a previously fitted transform, for inference on a
// restored model.
func (b *SequenceBuilder) SetScaler(s *Scaler) {
	b.scaler = s
}

// Fit sorts the readings chronologically and fits the scaling
// transform on their feature columns.
func (b *SequenceBuilder) Fit(readings []models.Reading) {
	sorted := sortReadings(readings)
	features := make([][]float64, len(sorted))
	for i, r := range sorted {
		features[i] = r.Features()
	}
	b.scaler = FitScaler(features)
}

// Build produces one sequence per index i in [Length, N): the window
// is the Length scaled rows before i, the target is the reading at i.
// Fewer than Length+1 readings yield an empty set; callers decide
// whether emptiness is an error.
func (b *SequenceBuilder) Build(readings []models.Reading) []Sequence {
	if b.scaler == nil {
		b.Fit(readings)
	}
	sorted := sortReadings(readings)
	if len(sorted) < b.Length+1 {
		return nil
	}

	features := make([][]float64, len(sorted))
	targets := make([][]float64, len(sorted))
	for i, r := range sorted {
		features[i] = b.scaler.Transform(r.Features())
		targets[i] = r.Targets()
	}

	sequences := make([]Sequence, 0, len(sorted)-b.Length)
	for i := b.Length; i < len(sorted); i++ {
		sequences = append(sequences, Sequence{
			Window: features[i-b.Length : i],
			Target: targets[i],
		})
	}
	return sequences
}

// LatestWindow returns the scaled window ending at the newest reading,
// for inference. Requires a fitted scaler and at least Length readings.
func (b *SequenceBuilder) LatestWindow(readings []models.Reading) ([][]float64, error) {
	if b.scaler == nil {
		return nil, ErrModelUnavailable
	}
	sorted := sortReadings(readings)
	if len(sorted) < b.Length {
		return nil, ErrInsufficientData
	}
	tail := sorted[len(sorted)-b.Length:]
	window := make([][]float64, b.Length)
	for i, r := range tail {
		window[i] = b.scaler.Transform(r.Features())
	}
	return window, nil
}

// AlignHorizon shifts targets forward by h steps: row i of the result
// is targets[i+h]. Horizon alignment is done on demand by the caller
// rather than baked into stored sequences.
func AlignHorizon(targets [][]float64, h models.Horizon) [][]float64 {
	steps := int(h)
	if steps >= len(targets) {
		return nil
	}
	aligned := make([][]float64, len(targets)-steps)
	for i := range aligned {
		aligned[i] = targets[i+steps]
	}
	return aligned
}

func sortReadings(readings []models.Reading) []models.Reading {
	sorted := make([]models.Reading, len(readings))
	copy(sorted, readings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})
	return sorted
}
