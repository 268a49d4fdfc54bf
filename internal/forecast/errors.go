package forecast

import "errors"

var (
	// ErrInsufficientData means too few rows for windowing or training.
	// Recoverable: the caller should retry once more data has arrived.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDimensionMismatch means a malformed input window. Caller bug,
	// not retried.
	ErrDimensionMismatch = errors.New("window dimension mismatch")

	// ErrModelUnavailable means no model has been trained or restored
	// yet. Surfaced as a structured "no model" result at the API
	// boundary rather than a failure.
	ErrModelUnavailable = errors.New("no model available")
)
