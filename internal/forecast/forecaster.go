package forecast

import (
	"fmt"
	"log"
	"time"

	"github.com/aircast/aircast/internal/models"
)

// MinTrainingSequences is the floor below which training fails with
// ErrInsufficientData for either model family.
const MinTrainingSequences = 50

// DefaultValidationSplit reserves this fraction of sequences for the
// sequential model's validation set.
const DefaultValidationSplit = 0.2

type TargetMetrics struct {
	MAE  float64
	RMSE float64
}

type TrainingReport struct {
	Family    models.ModelFamily
	Sequences int
	Duration  time.Duration

	// sequential only
	Epochs         int
	ValidationLoss float64

	// ensemble only: fit metrics per target on the training set
	Targets map[string]TargetMetrics
}

type TrainConfig struct {
	SequenceLength    int
	VolumeThreshold   int
	SequentialCapable bool
	ValidationSplit   float64
}

func (c TrainConfig) withDefaults() TrainConfig {
	if c.SequenceLength <= 0 {
		c.SequenceLength = DefaultSequenceLength
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = DefaultSequentialThreshold
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		c.ValidationSplit = DefaultValidationSplit
	}
	return c
}

// ModelState is one fully trained model: family tag, fitted parameters
// for exactly one variant, and the feature scaler they were fitted
// with. Replaced atomically as a whole, never mutated in place.
type ModelState struct {
	Family     models.ModelFamily
	Scaler     *Scaler
	Ensemble   *EnsembleModel
	Sequential *SequentialModel
	TrainedAt  time.Time
}

// SequenceLength returns the window length the state was trained with.
func (st *ModelState) SequenceLength() int {
	switch {
	case st.Sequential != nil:
		return st.Sequential.SequenceLength
	case st.Ensemble != nil:
		return st.Ensemble.SequenceLength
	default:
		return 0
	}
}

// Predict returns one point estimate per target measurement for a
// scaled window of exactly the trained length.
func (st *ModelState) Predict(window [][]float64) ([]float64, error) {
	if len(window) != st.SequenceLength() {
		return nil, fmt.Errorf("%w: got %d rows, want %d", ErrDimensionMismatch, len(window), st.SequenceLength())
	}
	for i, row := range window {
		if len(row) != models.NumFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrDimensionMismatch, i, len(row), models.NumFeatures)
		}
	}

	switch st.Family {
	case models.FamilySequential:
		return st.Sequential.predict(window), nil
	case models.FamilyEnsemble:
		return st.Ensemble.predict(window), nil
	default:
		return nil, ErrModelUnavailable
	}
}

// Train fits a fresh ModelState on the supplied readings. The family
// is chosen by the selection policy; switching family relative to a
// previous state is a full replace, nothing carries over.
func Train(readings []models.Reading, cfg TrainConfig) (*ModelState, *TrainingReport, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	builder := NewSequenceBuilder(cfg.SequenceLength)
	builder.Fit(readings)
	sequences := builder.Build(readings)
	if len(sequences) < MinTrainingSequences {
		return nil, nil, fmt.Errorf("%w: %d sequences, need %d", ErrInsufficientData, len(sequences), MinTrainingSequences)
	}

	family := Select(len(readings), cfg.VolumeThreshold, cfg.SequentialCapable)
	state := &ModelState{
		Family:    family,
		Scaler:    builder.Scaler(),
		TrainedAt: start.UTC(),
	}
	report := &TrainingReport{
		Family:    family,
		Sequences: len(sequences),
	}

	switch family {
	case models.FamilySequential:
		log.Printf("forecaster: training sequential model on %d sequences", len(sequences))
		model, epochs, valLoss := TrainSequential(sequences, cfg.SequenceLength, cfg.ValidationSplit)
		state.Sequential = model
		report.Epochs = epochs
		report.ValidationLoss = valLoss
	default:
		log.Printf("forecaster: training ensemble model on %d sequences", len(sequences))
		model := TrainEnsemble(sequences, cfg.SequenceLength)
		state.Ensemble = model
		report.Targets = model.trainingMetrics(sequences)
	}

	report.Duration = time.Since(start)
	return state, report, nil
}
