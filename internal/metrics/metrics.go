package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationsTotal counts finished generations by model and terminal phase.
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_generations_total",
		Help: "Finished generations by model and terminal phase.",
	}, []string{"model", "phase"})

	// StageDuration observes wall time per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studio_stage_duration_seconds",
		Help:    "Duration of each generation pipeline stage.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	// PollAttempts observes how many status polls a generation needed.
	PollAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studio_poll_attempts",
		Help:    "Status poll attempts per generation.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 200},
	}, []string{"provider"})

	// ChargeFailures counts credit debits that errored after a successful
	// generation.
	ChargeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studio_charge_failures_total",
		Help: "Credit charges that failed after a successful generation.",
	})
)
