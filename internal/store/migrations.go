package store

import (
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recorded_at DATETIME NOT NULL,
    pm25 REAL NOT NULL,
    pm10 REAL NOT NULL,
    temperature REAL NOT NULL,
    humidity REAL NOT NULL,
    gas_level REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(recorded_at)
);

CREATE TABLE IF NOT EXISTS forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    issued_at DATETIME NOT NULL,
    target_time DATETIME NOT NULL,
    horizon_steps INTEGER NOT NULL,
    model_family TEXT NOT NULL,
    predicted_pm25 REAL NOT NULL,
    predicted_pm10 REAL NOT NULL,
    predicted_temp REAL NOT NULL,
    predicted_humidity REAL NOT NULL,
    actual_pm25 REAL,
    actual_pm10 REAL,
    actual_temp REAL,
    actual_humidity REAL,
    matched_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accuracy_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    evaluated_at DATETIME NOT NULL,
    model_family TEXT NOT NULL,
    horizon_steps INTEGER NOT NULL,
    mae_pm25 REAL NOT NULL,
    mae_pm10 REAL NOT NULL,
    mae_temp REAL NOT NULL,
    mae_humidity REAL NOT NULL,
    rmse_pm25 REAL NOT NULL,
    rmse_pm10 REAL NOT NULL,
    rmse_temp REAL NOT NULL,
    rmse_humidity REAL NOT NULL,
    sample_count INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(recorded_at);
CREATE INDEX IF NOT EXISTS idx_forecasts_target ON forecasts(target_time);
CREATE INDEX IF NOT EXISTS idx_forecasts_issued ON forecasts(issued_at);
CREATE INDEX IF NOT EXISTS idx_accuracy_time ON accuracy_log(evaluated_at);
`,
	},
	{
		Version:     2,
		Description: "Index pending forecasts for evaluation scans",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_forecasts_pending ON forecasts(target_time) WHERE matched_at IS NULL;
`,
	},
}

func (s *Store) Migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.Version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		start := time.Now()
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
		log.Printf("store: applied migration %d (%s) in %s", m.Version, m.Description, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
