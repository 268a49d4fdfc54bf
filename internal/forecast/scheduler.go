package forecast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aircast/aircast/internal/metrics"
	"github.com/aircast/aircast/internal/models"
	"github.com/aircast/aircast/internal/store"
)

type Config struct {
	ForecastInterval time.Duration
	RetrainInterval  time.Duration
	EvaluateInterval time.Duration

	SequenceLength  int
	Horizons        []models.Horizon
	RetrainRows     int
	MinRetrainRows  int
	ValidationSplit float64

	SequentialCapable bool
	VolumeThreshold   int

	ArtifactDir string
}

func DefaultConfig(artifactDir string) Config {
	return Config{
		ForecastInterval:  5 * time.Minute,
		RetrainInterval:   24 * time.Hour,
		EvaluateInterval:  1 * time.Hour,
		SequenceLength:    DefaultSequenceLength,
		Horizons:          models.DefaultHorizons,
		RetrainRows:       50000,
		MinRetrainRows:    100,
		ValidationSplit:   DefaultValidationSplit,
		SequentialCapable: true,
		VolumeThreshold:   SequentialVolumeThreshold(AvailableMemory()),
		ArtifactDir:       artifactDir,
	}
}

// Scheduler owns the single ModelState and drives the three cadences:
// forecast issuance, retraining, accuracy evaluation. Predictions read
// the state under an RLock; a retrain builds its replacement off-lock
// and swaps the pointer, so in-flight readers always see either the
// old state or the new one whole.
type Scheduler struct {
	store *store.Store
	cfg   Config
	eval  *Evaluator

	mu    sync.RWMutex
	state *ModelState

	retraining atomic.Bool
	wg         sync.WaitGroup
}

func NewScheduler(st *store.Store, cfg Config) *Scheduler {
	return &Scheduler{
		store: st,
		cfg:   cfg,
		eval:  NewEvaluator(st),
	}
}

func (s *Scheduler) currentState() *ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(state *ModelState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// CurrentModelFamily reports the active family, or false while no
// model has been trained or restored.
func (s *Scheduler) CurrentModelFamily() (models.ModelFamily, bool) {
	state := s.currentState()
	if state == nil {
		return "", false
	}
	return state.Family, true
}

// Run restores any persisted model, trains one immediately if none
// exists and enough data has accumulated, then ticks the three
// cadences until the context is cancelled. A failed tick is logged and
// skipped; it never halts the later cadences.
func (s *Scheduler) Run(ctx context.Context) {
	s.restoreModel()
	if s.currentState() == nil {
		s.retrainAsync()
	}

	forecastTicker := time.NewTicker(s.cfg.ForecastInterval)
	retrainTicker := time.NewTicker(s.cfg.RetrainInterval)
	evalTicker := time.NewTicker(s.cfg.EvaluateInterval)
	defer forecastTicker.Stop()
	defer retrainTicker.Stop()
	defer evalTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			s.wg.Wait()
			return
		case <-forecastTicker.C:
			if err := s.IssueForecasts(time.Now()); err != nil {
				if errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrInsufficientData) {
					log.Printf("scheduler: forecast skipped: %v", err)
				} else {
					log.Printf("scheduler: forecast tick: %v", err)
					metrics.TickErrors.WithLabelValues("forecast").Inc()
				}
			}
		case <-retrainTicker.C:
			s.retrainAsync()
		case <-evalTicker.C:
			if _, _, err := s.eval.Tick(time.Now()); err != nil {
				log.Printf("scheduler: evaluate tick: %v", err)
				metrics.TickErrors.WithLabelValues("evaluate").Inc()
			}
		}
	}
}

func (s *Scheduler) restoreModel() {
	state, err := LoadModel(s.cfg.ArtifactDir)
	if err != nil {
		log.Printf("scheduler: restore model: %v", err)
		return
	}
	if state == nil {
		log.Println("scheduler: no persisted model, waiting for first training run")
		return
	}
	s.setState(state)
	log.Printf("scheduler: restored %s model trained at %s", state.Family, state.TrainedAt.Format(time.RFC3339))
}

// retrainAsync starts a retrain unless one is already in flight.
// Training runs off the ticker loop so forecast issuance keeps serving
// the prior model while it works.
func (s *Scheduler) retrainAsync() {
	if !s.retraining.CompareAndSwap(false, true) {
		log.Println("scheduler: retrain already in progress, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.retraining.Store(false)
		if err := s.Retrain(); err != nil {
			if errors.Is(err, ErrInsufficientData) {
				log.Printf("scheduler: retrain skipped: %v", err)
			} else {
				log.Printf("scheduler: retrain: %v", err)
				metrics.TickErrors.WithLabelValues("retrain").Inc()
			}
		}
	}()
}

// Retrain trains a fresh ModelState on the bounded recent history and
// replaces the current one atomically. A failed artifact save is
// logged but never discards the in-memory model that triggered it.
func (s *Scheduler) Retrain() error {
	readings, err := s.store.LatestReadings(s.cfg.RetrainRows)
	if err != nil {
		return fmt.Errorf("load training rows: %w", err)
	}
	if len(readings) < s.cfg.MinRetrainRows {
		return fmt.Errorf("%w: %d rows, need %d", ErrInsufficientData, len(readings), s.cfg.MinRetrainRows)
	}

	state, report, err := Train(readings, TrainConfig{
		SequenceLength:    s.cfg.SequenceLength,
		VolumeThreshold:   s.cfg.VolumeThreshold,
		SequentialCapable: s.cfg.SequentialCapable,
		ValidationSplit:   s.cfg.ValidationSplit,
	})
	if err != nil {
		metrics.RetrainsTotal.WithLabelValues("none", "error").Inc()
		return err
	}

	s.setState(state)
	metrics.RetrainsTotal.WithLabelValues(string(state.Family), "ok").Inc()
	metrics.RetrainDuration.Observe(report.Duration.Seconds())
	log.Printf("scheduler: trained %s model on %d sequences in %s", report.Family, report.Sequences, report.Duration.Round(time.Millisecond))

	if err := SaveModel(s.cfg.ArtifactDir, state); err != nil {
		log.Printf("scheduler: save model: %v", err)
	}
	return nil
}

// IssueForecasts emits one ForecastRecord per configured horizon from
// the latest window.
func (s *Scheduler) IssueForecasts(now time.Time) error {
	pred, state, err := s.predictLatest()
	if err != nil {
		return err
	}

	for _, h := range s.cfg.Horizons {
		rec := models.ForecastRecord{
			IssuedAt:          now.UTC(),
			TargetTime:        now.UTC().Add(h.Duration()),
			Horizon:           h,
			ModelFamily:       state.Family,
			PredictedPM25:     pred[0],
			PredictedPM10:     pred[1],
			PredictedTemp:     pred[2],
			PredictedHumidity: pred[3],
		}
		if _, err := s.store.InsertForecast(rec); err != nil {
			return fmt.Errorf("insert forecast for horizon %d: %w", int(h), err)
		}
		metrics.ForecastsIssued.WithLabelValues(string(state.Family), fmt.Sprintf("%gh", h.Hours())).Inc()
	}
	log.Printf("scheduler: issued %d forecasts (%s model)", len(s.cfg.Horizons), state.Family)
	return nil
}

func (s *Scheduler) predictLatest() ([]float64, *ModelState, error) {
	state := s.currentState()
	if state == nil {
		return nil, nil, ErrModelUnavailable
	}

	readings, err := s.store.LatestReadings(state.SequenceLength() + 50)
	if err != nil {
		return nil, nil, fmt.Errorf("load latest readings: %w", err)
	}

	builder := NewSequenceBuilder(state.SequenceLength())
	builder.SetScaler(state.Scaler)
	window, err := builder.LatestWindow(readings)
	if err != nil {
		return nil, nil, err
	}

	pred, err := state.Predict(window)
	if err != nil {
		return nil, nil, err
	}
	return pred, state, nil
}

// Evaluate runs one accuracy evaluation pass outside the ticker loop.
func (s *Scheduler) Evaluate(now time.Time) (int, []models.AccuracyRecord, error) {
	return s.eval.Tick(now)
}

// ForecastResult is the structured per-horizon outcome of a forced
// forecast: values on success, a reason string otherwise.
type ForecastResult struct {
	Values      map[string]float64 `json:"values,omitempty"`
	ModelFamily models.ModelFamily `json:"model_family,omitempty"`
	TargetTime  *time.Time         `json:"target_time,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// ForceForecast produces an immediate forecast for every configured
// horizon without recording it. Failures come back as structured
// results, never as an error crossing this boundary.
func (s *Scheduler) ForceForecast(now time.Time) map[string]ForecastResult {
	results := make(map[string]ForecastResult, len(s.cfg.Horizons))

	pred, state, err := s.predictLatest()
	if err != nil {
		reason := "prediction failed"
		switch {
		case errors.Is(err, ErrModelUnavailable):
			reason = "no model trained yet"
		case errors.Is(err, ErrInsufficientData):
			reason = "not enough readings for a window"
		}
		log.Printf("scheduler: force forecast: %v", err)
		for _, h := range s.cfg.Horizons {
			results[horizonKey(h)] = ForecastResult{Err: reason}
		}
		return results
	}

	for _, h := range s.cfg.Horizons {
		target := now.UTC().Add(h.Duration())
		results[horizonKey(h)] = ForecastResult{
			Values: map[string]float64{
				"pm25":        pred[0],
				"pm10":        pred[1],
				"temperature": pred[2],
				"humidity":    pred[3],
			},
			ModelFamily: state.Family,
			TargetTime:  &target,
		}
	}
	return results
}

func horizonKey(h models.Horizon) string {
	return fmt.Sprintf("%gh", h.Hours())
}

// AccuracySummary aggregates accuracy records over the lookback
// window, grouped by model family and horizon.
func (s *Scheduler) AccuracySummary(now time.Time, lookbackDays int) (map[models.ModelFamily]map[models.Horizon]MeasurementMetrics, error) {
	return s.eval.Summary(now, lookbackDays)
}

// LatestForecasts lists forecasts issued in the lookback window,
// newest first.
func (s *Scheduler) LatestForecasts(now time.Time, lookbackHours int) ([]models.ForecastRecord, error) {
	return s.store.ForecastsSince(now.Add(-time.Duration(lookbackHours) * time.Hour))
}
