package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aircast/aircast/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func testReading(at time.Time) models.Reading {
	return models.Reading{
		RecordedAt:  at,
		PM25:        12.5,
		PM10:        20.0,
		Temperature: 21.3,
		Humidity:    55.0,
		GasLevel:    140.0,
	}
}

func TestInsertReadingDeduplicates(t *testing.T) {
	store := setupTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.InsertReading(testReading(at)); err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
	if err := store.InsertReading(testReading(at)); err != nil {
		t.Fatalf("InsertReading duplicate: %v", err)
	}

	count, err := store.CountReadings()
	if err != nil {
		t.Fatalf("CountReadings: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestLatestReadingsChronological(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		r := testReading(base.Add(time.Duration(i) * 5 * time.Minute))
		r.PM25 = float64(i)
		if err := store.InsertReading(r); err != nil {
			t.Fatalf("InsertReading %d: %v", i, err)
		}
	}

	readings, err := store.LatestReadings(3)
	if err != nil {
		t.Fatalf("LatestReadings: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("len(readings) = %d, want 3", len(readings))
	}
	// Most recent 3, oldest first.
	for i, want := range []float64{7, 8, 9} {
		if readings[i].PM25 != want {
			t.Errorf("readings[%d].PM25 = %v, want %v", i, readings[i].PM25, want)
		}
	}
}

func TestReadingsBetween(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		if err := store.InsertReading(testReading(base.Add(time.Duration(i) * 5 * time.Minute))); err != nil {
			t.Fatalf("InsertReading %d: %v", i, err)
		}
	}

	// Inclusive bounds: 00:10 through 00:30 covers five readings.
	readings, err := store.ReadingsBetween(base.Add(10*time.Minute), base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("ReadingsBetween: %v", err)
	}
	if len(readings) != 5 {
		t.Fatalf("len(readings) = %d, want 5", len(readings))
	}
	for i := 1; i < len(readings); i++ {
		if !readings[i].RecordedAt.After(readings[i-1].RecordedAt) {
			t.Errorf("readings not in chronological order at %d", i)
		}
	}
}

func TestClosestReading(t *testing.T) {
	store := setupTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, 5 * time.Minute, 10 * time.Minute} {
		r := testReading(base.Add(offset))
		r.PM25 = offset.Minutes()
		if err := store.InsertReading(r); err != nil {
			t.Fatalf("InsertReading: %v", err)
		}
	}

	got, err := store.ClosestReading(base.Add(6 * time.Minute))
	if err != nil {
		t.Fatalf("ClosestReading: %v", err)
	}
	if got == nil {
		t.Fatal("ClosestReading returned nil")
	}
	if got.PM25 != 5 {
		t.Errorf("closest PM25 = %v, want 5 (the 12:05 reading)", got.PM25)
	}
}

func TestClosestReadingEmpty(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.ClosestReading(time.Now())
	if err != nil {
		t.Fatalf("ClosestReading: %v", err)
	}
	if got != nil {
		t.Errorf("ClosestReading = %+v, want nil", got)
	}
}

func TestResolveForecastOnce(t *testing.T) {
	store := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.InsertForecast(models.ForecastRecord{
		IssuedAt:    now,
		TargetTime:  now.Add(time.Hour),
		Horizon:     12,
		ModelFamily: models.FamilyEnsemble,
	})
	if err != nil {
		t.Fatalf("InsertForecast: %v", err)
	}

	actual := testReading(now.Add(time.Hour))
	if err := store.ResolveForecast(id, actual, now.Add(time.Hour)); err != nil {
		t.Fatalf("ResolveForecast: %v", err)
	}
	if err := store.ResolveForecast(id, actual, now.Add(2*time.Hour)); err == nil {
		t.Error("second ResolveForecast succeeded, want error")
	}

	pending, err := store.PendingForecastsDue(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("PendingForecastsDue: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("len(pending) = %d, want 0", len(pending))
	}
}

func TestPendingForecastsDue(t *testing.T) {
	store := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, h := range []models.Horizon{12, 36, 72} {
		_, err := store.InsertForecast(models.ForecastRecord{
			IssuedAt:    now,
			TargetTime:  now.Add(h.Duration()),
			Horizon:     h,
			ModelFamily: models.FamilySequential,
		})
		if err != nil {
			t.Fatalf("InsertForecast: %v", err)
		}
	}

	// Only the 1h forecast is due 90 minutes later.
	due, err := store.PendingForecastsDue(now.Add(90 * time.Minute))
	if err != nil {
		t.Fatalf("PendingForecastsDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len(due) = %d, want 1", len(due))
	}
	if due[0].Horizon != 12 {
		t.Errorf("due[0].Horizon = %d, want 12", due[0].Horizon)
	}
	if due[0].Matched() {
		t.Error("due forecast reports matched")
	}
}

func TestAccuracyRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := models.AccuracyRecord{
		EvaluatedAt:  now,
		ModelFamily:  models.FamilyEnsemble,
		Horizon:      36,
		MAEPM25:      1.5,
		MAEPM10:      2.5,
		MAETemp:      0.5,
		MAEHumidity:  3.0,
		RMSEPM25:     2.0,
		RMSEPM10:     3.0,
		RMSETemp:     0.7,
		RMSEHumidity: 3.5,
		SampleCount:  4,
	}
	if err := store.InsertAccuracyRecord(rec); err != nil {
		t.Fatalf("InsertAccuracyRecord: %v", err)
	}

	records, err := store.AccuracySince(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AccuracySince: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	got := records[0]
	if got.ModelFamily != models.FamilyEnsemble || got.Horizon != 36 {
		t.Errorf("got family=%s horizon=%d, want ensemble/36", got.ModelFamily, got.Horizon)
	}
	if got.MAEPM25 != 1.5 || got.RMSEHumidity != 3.5 || got.SampleCount != 4 {
		t.Errorf("record fields not preserved: %+v", got)
	}

	old, err := store.AccuracySince(now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AccuracySince future cutoff: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("len(old) = %d, want 0", len(old))
	}
}
