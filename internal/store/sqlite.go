package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aircast/aircast/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertReading(r models.Reading) error {
	_, err := s.db.Exec(`
		INSERT INTO readings (recorded_at, pm25, pm10, temperature, humidity, gas_level)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(recorded_at) DO NOTHING
	`, r.RecordedAt.UTC(), r.PM25, r.PM10, r.Temperature, r.Humidity, r.GasLevel)
	return err
}

func (s *Store) CountReadings() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&count)
	return count, err
}

// LatestReadings returns the most recent n readings in chronological order.
func (s *Store) LatestReadings(n int) ([]models.Reading, error) {
	rows, err := s.db.Query(`
		SELECT id, recorded_at, pm25, pm10, temperature, humidity, gas_level, created_at
		FROM (
			SELECT id, recorded_at, pm25, pm10, temperature, humidity, gas_level, created_at
			FROM readings
			ORDER BY recorded_at DESC
			LIMIT ?
		)
		ORDER BY recorded_at ASC
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

func (s *Store) ReadingsBetween(start, end time.Time) ([]models.Reading, error) {
	rows, err := s.db.Query(`
		SELECT id, recorded_at, pm25, pm10, temperature, humidity, gas_level, created_at
		FROM readings
		WHERE recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at ASC
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// ClosestReading returns the reading nearest in time to t, or nil when
// the table is empty.
func (s *Store) ClosestReading(t time.Time) (*models.Reading, error) {
	row := s.db.QueryRow(`
		SELECT id, recorded_at, pm25, pm10, temperature, humidity, gas_level, created_at
		FROM readings
		ORDER BY ABS(strftime('%s', substr(recorded_at, 1, 19)) - ?)
		LIMIT 1
	`, t.UTC().Unix())

	var r models.Reading
	err := row.Scan(&r.ID, &r.RecordedAt, &r.PM25, &r.PM10, &r.Temperature, &r.Humidity, &r.GasLevel, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanReadings(rows *sql.Rows) ([]models.Reading, error) {
	var readings []models.Reading
	for rows.Next() {
		var r models.Reading
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.PM25, &r.PM10, &r.Temperature, &r.Humidity, &r.GasLevel, &r.CreatedAt); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (s *Store) InsertForecast(f models.ForecastRecord) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO forecasts (issued_at, target_time, horizon_steps, model_family,
			predicted_pm25, predicted_pm10, predicted_temp, predicted_humidity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.IssuedAt.UTC(), f.TargetTime.UTC(), int(f.Horizon), string(f.ModelFamily),
		f.PredictedPM25, f.PredictedPM10, f.PredictedTemp, f.PredictedHumidity)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingForecastsDue returns unmatched forecasts whose target time has
// already elapsed, oldest first.
func (s *Store) PendingForecastsDue(now time.Time) ([]models.ForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, issued_at, target_time, horizon_steps, model_family,
		       predicted_pm25, predicted_pm10, predicted_temp, predicted_humidity,
		       actual_pm25, actual_pm10, actual_temp, actual_humidity, matched_at, created_at
		FROM forecasts
		WHERE matched_at IS NULL AND target_time <= ?
		ORDER BY target_time ASC
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForecasts(rows)
}

// ResolveForecast fills the actual slots of one pending record. The
// matched_at guard makes the fill happen at most once per record.
func (s *Store) ResolveForecast(id int64, actual models.Reading, matchedAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE forecasts
		SET actual_pm25 = ?, actual_pm10 = ?, actual_temp = ?, actual_humidity = ?, matched_at = ?
		WHERE id = ? AND matched_at IS NULL
	`, actual.PM25, actual.PM10, actual.Temperature, actual.Humidity, matchedAt.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("forecast %d already matched or missing", id)
	}
	return nil
}

// ForecastsSince returns forecasts issued at or after the cutoff,
// newest first.
func (s *Store) ForecastsSince(cutoff time.Time) ([]models.ForecastRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, issued_at, target_time, horizon_steps, model_family,
		       predicted_pm25, predicted_pm10, predicted_temp, predicted_humidity,
		       actual_pm25, actual_pm10, actual_temp, actual_humidity, matched_at, created_at
		FROM forecasts
		WHERE issued_at >= ?
		ORDER BY issued_at DESC
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanForecasts(rows)
}

func scanForecasts(rows *sql.Rows) ([]models.ForecastRecord, error) {
	var forecasts []models.ForecastRecord
	for rows.Next() {
		var f models.ForecastRecord
		var horizon int
		var family string
		if err := rows.Scan(&f.ID, &f.IssuedAt, &f.TargetTime, &horizon, &family,
			&f.PredictedPM25, &f.PredictedPM10, &f.PredictedTemp, &f.PredictedHumidity,
			&f.ActualPM25, &f.ActualPM10, &f.ActualTemp, &f.ActualHumidity, &f.MatchedAt, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Horizon = models.Horizon(horizon)
		f.ModelFamily = models.ModelFamily(family)
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

func (s *Store) InsertAccuracyRecord(a models.AccuracyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO accuracy_log (evaluated_at, model_family, horizon_steps,
			mae_pm25, mae_pm10, mae_temp, mae_humidity,
			rmse_pm25, rmse_pm10, rmse_temp, rmse_humidity, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.EvaluatedAt.UTC(), string(a.ModelFamily), int(a.Horizon),
		a.MAEPM25, a.MAEPM10, a.MAETemp, a.MAEHumidity,
		a.RMSEPM25, a.RMSEPM10, a.RMSETemp, a.RMSEHumidity, a.SampleCount)
	return err
}

func (s *Store) AccuracySince(cutoff time.Time) ([]models.AccuracyRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, evaluated_at, model_family, horizon_steps,
		       mae_pm25, mae_pm10, mae_temp, mae_humidity,
		       rmse_pm25, rmse_pm10, rmse_temp, rmse_humidity, sample_count, created_at
		FROM accuracy_log
		WHERE evaluated_at >= ?
		ORDER BY evaluated_at ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.AccuracyRecord
	for rows.Next() {
		var a models.AccuracyRecord
		var horizon int
		var family string
		if err := rows.Scan(&a.ID, &a.EvaluatedAt, &family, &horizon,
			&a.MAEPM25, &a.MAEPM10, &a.MAETemp, &a.MAEHumidity,
			&a.RMSEPM25, &a.RMSEPM10, &a.RMSETemp, &a.RMSEHumidity, &a.SampleCount, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Horizon = models.Horizon(horizon)
		a.ModelFamily = models.ModelFamily(family)
		records = append(records, a)
	}
	return records, rows.Err()
}
