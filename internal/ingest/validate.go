package ingest

import (
	"github.com/aircast/aircast/internal/models"
)

const (
	FlagPM25Negative     = "pm25_negative"
	FlagPM10Negative     = "pm10_negative"
	FlagPMOrderSuspect   = "pm_order_suspect"
	FlagTempOutOfRange   = "temp_out_of_range"
	FlagHumidityInvalid  = "humidity_invalid"
	FlagGasLevelNegative = "gas_level_negative"
)

// ValidateReading returns quality flags for values outside plausible
// sensor ranges. Flagged readings are rejected before storage so the
// training set only ever sees plausible rows.
func ValidateReading(r *models.Reading) []string {
	var flags []string

	if r.PM25 < 0 {
		flags = append(flags, FlagPM25Negative)
	}
	if r.PM10 < 0 {
		flags = append(flags, FlagPM10Negative)
	}
	if r.PM25 >= 0 && r.PM10 >= 0 && r.PM25 > r.PM10*2 {
		flags = append(flags, FlagPMOrderSuspect)
	}

	if r.Temperature < -10 || r.Temperature > 60 {
		flags = append(flags, FlagTempOutOfRange)
	}

	if r.Humidity < 0 || r.Humidity > 100 {
		flags = append(flags, FlagHumidityInvalid)
	}

	if r.GasLevel < 0 {
		flags = append(flags, FlagGasLevelNegative)
	}

	return flags
}
