package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	displayFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcdiagram_display_frames_total",
		Help: "Diagram fragments received from the model, by outcome",
	}, []string{"outcome"}) // changed, unchanged, rejected

	editBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vcdiagram_edit_batches_total",
		Help: "Search/replace batches applied, by outcome",
	}, []string{"outcome"}) // applied, failed

	exportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vcdiagram_export_duration_seconds",
		Help:    "Time from export request to the surface's answer",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"outcome"}) // ok, timeout, conflict, error

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcdiagram_sessions",
		Help: "Sessions held in memory",
	})

	surfaceQueueFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcdiagram_surface_queue_full_total",
		Help: "Surface events rejected because the browser stopped polling",
	})
)
