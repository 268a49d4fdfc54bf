package forecast

import (
	"sync"
	"testing"
	"time"

	"github.com/aircast/aircast/internal/models"
)

func schedulerTestConfig(t *testing.T) Config {
	cfg := DefaultConfig(t.TempDir())
	cfg.SequenceLength = 10
	cfg.MinRetrainRows = 50
	cfg.RetrainRows = 1000
	return cfg
}

func seedReadings(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, r := range syntheticReadings(n, start) {
		if err := s.store.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}
}

func TestRetrainAndIssueForecasts(t *testing.T) {
	st := setupEvalStore(t)
	s := NewScheduler(st, schedulerTestConfig(t))
	seedReadings(t, s, 200)

	if _, ok := s.CurrentModelFamily(); ok {
		t.Fatal("scheduler reports a model before any training")
	}
	if err := s.IssueForecasts(time.Now()); err == nil {
		t.Fatal("IssueForecasts succeeded without a model")
	}

	if err := s.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	family, ok := s.CurrentModelFamily()
	if !ok {
		t.Fatal("no model after successful retrain")
	}
	if family != models.FamilyEnsemble {
		t.Errorf("family = %s, want ensemble for 200 readings", family)
	}

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if err := s.IssueForecasts(now); err != nil {
		t.Fatalf("IssueForecasts: %v", err)
	}

	forecasts, err := s.LatestForecasts(now, 24)
	if err != nil {
		t.Fatalf("LatestForecasts: %v", err)
	}
	if len(forecasts) != len(s.cfg.Horizons) {
		t.Fatalf("len(forecasts) = %d, want %d", len(forecasts), len(s.cfg.Horizons))
	}
	for _, f := range forecasts {
		if !f.TargetTime.Equal(now.Add(f.Horizon.Duration())) {
			t.Errorf("horizon %d target = %v, want issued+%v", f.Horizon, f.TargetTime, f.Horizon.Duration())
		}
	}
}

func TestRetrainInsufficientRows(t *testing.T) {
	st := setupEvalStore(t)
	s := NewScheduler(st, schedulerTestConfig(t))
	seedReadings(t, s, 10)

	if err := s.Retrain(); err == nil {
		t.Fatal("Retrain succeeded on 10 rows")
	}
	if _, ok := s.CurrentModelFamily(); ok {
		t.Error("failed retrain installed a model")
	}
}

func TestRetrainPersistsAndRestores(t *testing.T) {
	st := setupEvalStore(t)
	cfg := schedulerTestConfig(t)
	s := NewScheduler(st, cfg)
	seedReadings(t, s, 200)

	if err := s.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	fresh := NewScheduler(st, cfg)
	fresh.restoreModel()
	family, ok := fresh.CurrentModelFamily()
	if !ok {
		t.Fatal("restored scheduler has no model")
	}
	want, _ := s.CurrentModelFamily()
	if family != want {
		t.Errorf("restored family = %s, want %s", family, want)
	}
}

func TestForceForecastWithoutModel(t *testing.T) {
	st := setupEvalStore(t)
	s := NewScheduler(st, schedulerTestConfig(t))

	results := s.ForceForecast(time.Now())
	if len(results) != len(s.cfg.Horizons) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(s.cfg.Horizons))
	}
	for key, res := range results {
		if res.Err == "" {
			t.Errorf("horizon %s: want error result without a model", key)
		}
		if res.Values != nil {
			t.Errorf("horizon %s: got values %v without a model", key, res.Values)
		}
	}
}

func TestForceForecastValues(t *testing.T) {
	st := setupEvalStore(t)
	s := NewScheduler(st, schedulerTestConfig(t))
	seedReadings(t, s, 200)

	if err := s.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	results := s.ForceForecast(now)
	res, ok := results["1h"]
	if !ok {
		t.Fatalf("missing 1h result, got keys %v", keys(results))
	}
	if res.Err != "" {
		t.Fatalf("1h result errored: %s", res.Err)
	}
	for _, name := range models.TargetNames {
		if _, ok := res.Values[name]; !ok {
			t.Errorf("1h values missing %s", name)
		}
	}
	if res.TargetTime == nil || !res.TargetTime.Equal(now.Add(time.Hour)) {
		t.Errorf("1h target time = %v, want %v", res.TargetTime, now.Add(time.Hour))
	}
}

func keys(m map[string]ForecastResult) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// A reader racing a retrain must observe a whole state, old or new,
// never a mix.
func TestConcurrentPredictDuringRetrain(t *testing.T) {
	st := setupEvalStore(t)
	s := NewScheduler(st, schedulerTestConfig(t))
	seedReadings(t, s, 200)

	if err := s.Retrain(); err != nil {
		t.Fatalf("initial Retrain: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			state := s.currentState()
			if state == nil {
				t.Error("state became nil during retrain")
				return
			}
			window := make([][]float64, state.SequenceLength())
			for i := range window {
				window[i] = make([]float64, models.NumFeatures)
			}
			if _, err := state.Predict(window); err != nil {
				t.Errorf("Predict on observed state: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 3; i++ {
		if err := s.Retrain(); err != nil {
			t.Fatalf("Retrain %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}
