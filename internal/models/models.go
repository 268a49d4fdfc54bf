package models

import (
	"database/sql"
	"time"
)

// BaseStep is the fixed cadence of the sensor stream. Horizons are
// expressed as multiples of this step.
const BaseStep = 5 * time.Minute

// Measurement ordering is fixed across the system: scaled feature rows
// are [pm25, pm10, temperature, humidity, gas_level] and prediction
// vectors are [pm25, pm10, temperature, humidity].
const (
	NumFeatures = 5
	NumTargets  = 4
)

// TargetNames indexes prediction vectors by measurement.
var TargetNames = [NumTargets]string{"pm25", "pm10", "temperature", "humidity"}

type ModelFamily string

const (
	FamilySequential ModelFamily = "sequential"
	FamilyEnsemble   ModelFamily = "ensemble"
)

// Horizon is a forecast offset in base steps.
type Horizon int

func (h Horizon) Duration() time.Duration {
	return time.Duration(h) * BaseStep
}

func (h Horizon) Hours() float64 {
	return h.Duration().Hours()
}

// DefaultHorizons are 1, 3 and 6 hours in 5-minute steps.
var DefaultHorizons = []Horizon{12, 36, 72}

type Reading struct {
	ID          int64
	RecordedAt  time.Time
	PM25        float64
	PM10        float64
	Temperature float64
	Humidity    float64
	GasLevel    float64
	CreatedAt   time.Time
}

// Features returns the scaling-input row for a reading.
func (r Reading) Features() []float64 {
	return []float64{r.PM25, r.PM10, r.Temperature, r.Humidity, r.GasLevel}
}

// Targets returns the predicted-measurement row for a reading.
func (r Reading) Targets() []float64 {
	return []float64{r.PM25, r.PM10, r.Temperature, r.Humidity}
}

// ForecastRecord is one emitted prediction. The actual slots stay NULL
// until the evaluator matches the record against a later reading; that
// fill is the only mutation a record ever undergoes.
type ForecastRecord struct {
	ID          int64
	IssuedAt    time.Time
	TargetTime  time.Time
	Horizon     Horizon
	ModelFamily ModelFamily

	PredictedPM25     float64
	PredictedPM10     float64
	PredictedTemp     float64
	PredictedHumidity float64

	ActualPM25     sql.NullFloat64
	ActualPM10     sql.NullFloat64
	ActualTemp     sql.NullFloat64
	ActualHumidity sql.NullFloat64
	MatchedAt      sql.NullTime

	CreatedAt time.Time
}

func (f ForecastRecord) Matched() bool {
	return f.MatchedAt.Valid
}

// Predicted returns the prediction vector in target order.
func (f ForecastRecord) Predicted() []float64 {
	return []float64{f.PredictedPM25, f.PredictedPM10, f.PredictedTemp, f.PredictedHumidity}
}

// AccuracyRecord aggregates matched forecasts for one (model family,
// horizon) group at one evaluation tick. Immutable after creation.
type AccuracyRecord struct {
	ID          int64
	EvaluatedAt time.Time
	ModelFamily ModelFamily
	Horizon     Horizon

	MAEPM25     float64
	MAEPM10     float64
	MAETemp     float64
	MAEHumidity float64

	RMSEPM25     float64
	RMSEPM10     float64
	RMSETemp     float64
	RMSEHumidity float64

	SampleCount int
	CreatedAt   time.Time
}
