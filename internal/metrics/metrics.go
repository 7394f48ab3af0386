package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "Currently open conversation connections",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "Total conversation connections accepted",
	})

	SessionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_rejected_total",
		Help: "Connections refused by the admission limit",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	E2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_e2e_duration_seconds",
		Help:    "Latency from end of user audio to first synthesized audio frame",
		Buckets: []float64{0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0, 8.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioInputChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audio_input_chunks_total",
		Help: "Audio chunks forwarded to a recognizer",
	})

	AudioOutputChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_audio_output_chunks_total",
		Help: "Synthesized audio frames sent to clients",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Inbound frames ignored by the session protocol",
	}, []string{"reason"})

	Segments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_segments_total",
		Help: "Reply segments by synthesis outcome",
	}, []string{"outcome"})

	BackgroundTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_background_tasks_total",
		Help: "Detached side-effect tasks by name and outcome",
	}, []string{"task", "status"})
)
