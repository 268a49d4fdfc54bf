package api

import (
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aircast/aircast/internal/forecast"
	"github.com/aircast/aircast/internal/models"
	"github.com/aircast/aircast/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *store.Store, *forecast.Scheduler) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := forecast.DefaultConfig(t.TempDir())
	cfg.SequenceLength = 10
	cfg.MinRetrainRows = 50
	scheduler := forecast.NewScheduler(st, cfg)
	return NewServer(st, scheduler, "0"), st, scheduler
}

func seedServerReadings(t *testing.T, st *store.Store, n int) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		phase := float64(i) * 0.1
		err := st.InsertReading(models.Reading{
			RecordedAt:  start.Add(time.Duration(i) * 5 * time.Minute),
			PM25:        10 + 5*math.Sin(phase),
			PM10:        18 + 6*math.Sin(phase+0.3),
			Temperature: 20 + 3*math.Cos(phase),
			Humidity:    50 + 10*math.Sin(phase*0.5),
			GasLevel:    120 + 20*math.Cos(phase*0.7),
		})
		if err != nil {
			t.Fatalf("InsertReading %d: %v", i, err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestModelEndpointBeforeTraining(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trained, _ := body["trained"].(bool); trained {
		t.Error("trained = true before any training")
	}
}

func TestModelEndpointAfterTraining(t *testing.T) {
	server, st, scheduler := setupTestServer(t)
	seedServerReadings(t, st, 200)
	if err := scheduler.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if trained, _ := body["trained"].(bool); !trained {
		t.Error("trained = false after training")
	}
	if body["model_family"] != "ensemble" {
		t.Errorf("model_family = %v, want ensemble", body["model_family"])
	}
}

func TestForecastEndpointMethodAndNoModel(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forecast", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forecast", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d, want 200", rec.Code)
	}
	var body map[string]forecast.ForecastResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for key, res := range body {
		if res.Err == "" {
			t.Errorf("horizon %s: want error result without a model", key)
		}
	}
}

func TestForecastEndpointWithModel(t *testing.T) {
	server, st, scheduler := setupTestServer(t)
	seedServerReadings(t, st, 200)
	if err := scheduler.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/forecast", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]forecast.ForecastResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 3 {
		t.Fatalf("len(body) = %d, want one result per horizon", len(body))
	}
	for key, res := range body {
		if res.Err != "" {
			t.Errorf("horizon %s errored: %s", key, res.Err)
		}
		if _, ok := res.Values["pm25"]; !ok {
			t.Errorf("horizon %s missing pm25 value", key)
		}
	}
}

func TestLatestReadingsEndpoint(t *testing.T) {
	server, st, _ := setupTestServer(t)
	seedServerReadings(t, st, 20)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings/latest?n=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var readings []models.Reading
	if err := json.NewDecoder(rec.Body).Decode(&readings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(readings) != 5 {
		t.Errorf("len(readings) = %d, want 5", len(readings))
	}
}

func TestAccuracyEndpointEmpty(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accuracy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]map[string]forecast.MeasurementMetrics
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("summary = %v, want empty with no accuracy records", body)
	}
}

func TestForecastsEndpoint(t *testing.T) {
	server, st, scheduler := setupTestServer(t)
	seedServerReadings(t, st, 200)
	if err := scheduler.Retrain(); err != nil {
		t.Fatalf("Retrain: %v", err)
	}
	if err := scheduler.IssueForecasts(time.Now()); err != nil {
		t.Fatalf("IssueForecasts: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/forecasts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var forecasts []models.ForecastRecord
	if err := json.NewDecoder(rec.Body).Decode(&forecasts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(forecasts) != 3 {
		t.Errorf("len(forecasts) = %d, want 3", len(forecasts))
	}
}
