package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feefine_actions_total",
		Help: "Fee/fine actions processed, labeled by kind and outcome",
	}, []string{"kind", "outcome"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feefine_action_duration_seconds",
		Help:    "Latency of executed fee/fine actions",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"kind"})

	distributionOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feefine_distribution_overrun_total",
		Help: "Plans that could not absorb a validated amount; always a defect",
	})
)

const outcomeCommitted = "committed"
