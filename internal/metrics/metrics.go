package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aircast_readings_ingested_total",
			Help: "Total sensor readings successfully stored",
		},
	)

	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircast_readings_rejected_total",
			Help: "Total sensor readings rejected by validation",
		},
		[]string{"flag"},
	)

	ForecastsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircast_forecasts_issued_total",
			Help: "Total forecasts issued",
		},
		[]string{"family", "horizon"},
	)

	ForecastsMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aircast_forecasts_matched_total",
			Help: "Total forecasts matched against a later reading",
		},
	)

	RetrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircast_retrains_total",
			Help: "Total retraining runs",
		},
		[]string{"family", "status"},
	)

	RetrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aircast_retrain_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	TickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aircast_tick_errors_total",
			Help: "Scheduler ticks that failed and were skipped",
		},
		[]string{"tick"},
	)
)
