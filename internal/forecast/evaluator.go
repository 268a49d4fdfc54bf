package forecast

import (
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aircast/aircast/internal/metrics"
	"github.com/aircast/aircast/internal/models"
	"github.com/aircast/aircast/internal/store"
)

// DefaultMatchTolerance is the widest gap between a forecast's target
// time and a reading for the two to count as a match.
const DefaultMatchTolerance = 10 * time.Minute

// Evaluator reconciles past forecasts with later-arrived readings and
// aggregates error statistics. It owns the forecast and accuracy logs
// and never touches model state.
type Evaluator struct {
	store     *store.Store
	tolerance time.Duration
}

func NewEvaluator(st *store.Store) *Evaluator {
	return &Evaluator{store: st, tolerance: DefaultMatchTolerance}
}

type errGroup struct {
	family  models.ModelFamily
	horizon models.Horizon
	absErr  [models.NumTargets][]float64
	sqErr   [models.NumTargets][]float64
}

// Tick matches all due pending forecasts against the closest readings
// and emits one AccuracyRecord per (family, horizon) group that gained
// matches. Forecasts with no reading within tolerance stay pending and
// are retried next tick; that is an expected state, not an error.
func (e *Evaluator) Tick(now time.Time) (int, []models.AccuracyRecord, error) {
	due, err := e.store.PendingForecastsDue(now)
	if err != nil {
		return 0, nil, fmt.Errorf("list pending forecasts: %w", err)
	}
	if len(due) == 0 {
		return 0, nil, nil
	}

	groups := make(map[string]*errGroup)
	matched := 0

	for _, f := range due {
		reading, err := e.store.ClosestReading(f.TargetTime)
		if err != nil {
			return matched, nil, fmt.Errorf("find actual for forecast %d: %w", f.ID, err)
		}
		if reading == nil {
			continue
		}
		gap := reading.RecordedAt.Sub(f.TargetTime)
		if gap < 0 {
			gap = -gap
		}
		if gap > e.tolerance {
			continue
		}

		if err := e.store.ResolveForecast(f.ID, *reading, now); err != nil {
			log.Printf("evaluator: resolve forecast %d: %v", f.ID, err)
			continue
		}
		matched++
		metrics.ForecastsMatched.Inc()

		key := string(f.ModelFamily) + "/" + fmt.Sprint(int(f.Horizon))
		g, ok := groups[key]
		if !ok {
			g = &errGroup{family: f.ModelFamily, horizon: f.Horizon}
			groups[key] = g
		}
		predicted := f.Predicted()
		actual := reading.Targets()
		for t := 0; t < models.NumTargets; t++ {
			d := predicted[t] - actual[t]
			g.absErr[t] = append(g.absErr[t], math.Abs(d))
			g.sqErr[t] = append(g.sqErr[t], d*d)
		}
	}

	var records []models.AccuracyRecord
	for _, g := range groups {
		rec := models.AccuracyRecord{
			EvaluatedAt:  now.UTC(),
			ModelFamily:  g.family,
			Horizon:      g.horizon,
			MAEPM25:      stat.Mean(g.absErr[0], nil),
			MAEPM10:      stat.Mean(g.absErr[1], nil),
			MAETemp:      stat.Mean(g.absErr[2], nil),
			MAEHumidity:  stat.Mean(g.absErr[3], nil),
			RMSEPM25:     math.Sqrt(stat.Mean(g.sqErr[0], nil)),
			RMSEPM10:     math.Sqrt(stat.Mean(g.sqErr[1], nil)),
			RMSETemp:     math.Sqrt(stat.Mean(g.sqErr[2], nil)),
			RMSEHumidity: math.Sqrt(stat.Mean(g.sqErr[3], nil)),
			SampleCount:  len(g.absErr[0]),
		}
		if err := e.store.InsertAccuracyRecord(rec); err != nil {
			return matched, records, fmt.Errorf("insert accuracy record: %w", err)
		}
		records = append(records, rec)
	}

	if matched > 0 {
		log.Printf("evaluator: matched %d forecasts into %d accuracy records", matched, len(records))
	}
	return matched, records, nil
}

// MeasurementMetrics is the per-measurement error summary exposed at
// the API boundary.
type MeasurementMetrics struct {
	MAEPM25     float64 `json:"mae_pm25"`
	MAEPM10     float64 `json:"mae_pm10"`
	MAETemp     float64 `json:"mae_temperature"`
	MAEHumidity float64 `json:"mae_humidity"`

	RMSEPM25     float64 `json:"rmse_pm25"`
	RMSEPM10     float64 `json:"rmse_pm10"`
	RMSETemp     float64 `json:"rmse_temperature"`
	RMSEHumidity float64 `json:"rmse_humidity"`

	SampleCount int `json:"sample_count"`
}

// Summary averages accuracy records over the lookback window, grouped
// by model family and then horizon.
func (e *Evaluator) Summary(now time.Time, lookbackDays int) (map[models.ModelFamily]map[models.Horizon]MeasurementMetrics, error) {
	cutoff := now.AddDate(0, 0, -lookbackDays)
	records, err := e.store.AccuracySince(cutoff)
	if err != nil {
		return nil, fmt.Errorf("load accuracy records: %w", err)
	}

	type agg struct {
		sum   MeasurementMetrics
		count int
	}
	aggs := make(map[models.ModelFamily]map[models.Horizon]*agg)
	for _, r := range records {
		byHorizon, ok := aggs[r.ModelFamily]
		if !ok {
			byHorizon = make(map[models.Horizon]*agg)
			aggs[r.ModelFamily] = byHorizon
		}
		a, ok := byHorizon[r.Horizon]
		if !ok {
			a = &agg{}
			byHorizon[r.Horizon] = a
		}
		a.sum.MAEPM25 += r.MAEPM25
		a.sum.MAEPM10 += r.MAEPM10
		a.sum.MAETemp += r.MAETemp
		a.sum.MAEHumidity += r.MAEHumidity
		a.sum.RMSEPM25 += r.RMSEPM25
		a.sum.RMSEPM10 += r.RMSEPM10
		a.sum.RMSETemp += r.RMSETemp
		a.sum.RMSEHumidity += r.RMSEHumidity
		a.sum.SampleCount += r.SampleCount
		a.count++
	}

	summary := make(map[models.ModelFamily]map[models.Horizon]MeasurementMetrics, len(aggs))
	for family, byHorizon := range aggs {
		summary[family] = make(map[models.Horizon]MeasurementMetrics, len(byHorizon))
		for horizon, a := range byHorizon {
			n := float64(a.count)
			summary[family][horizon] = MeasurementMetrics{
				MAEPM25:      a.sum.MAEPM25 / n,
				MAEPM10:      a.sum.MAEPM10 / n,
				MAETemp:      a.sum.MAETemp / n,
				MAEHumidity:  a.sum.MAEHumidity / n,
				RMSEPM25:     a.sum.RMSEPM25 / n,
				RMSEPM10:     a.sum.RMSEPM10 / n,
				RMSETemp:     a.sum.RMSETemp / n,
				RMSEHumidity: a.sum.RMSEHumidity / n,
				SampleCount:  a.sum.SampleCount,
			}
		}
	}
	return summary, nil
}
