package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphawebm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alphawebm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alphawebm_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Encode metrics
var (
	EncodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphawebm_encodes_total",
			Help: "Total number of encode requests by outcome",
		},
		[]string{"outcome"}, // none, ready, warning, failed
	)

	EncodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "alphawebm_encodes_in_flight",
			Help: "Number of encodes currently running",
		},
	)

	EncodePassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alphawebm_encode_pass_duration_seconds",
			Help:    "Duration of a single encoder pass in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"pass"},
	)

	StageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alphawebm_stage_duration_seconds",
			Help:    "Time spent unpacking and renumbering an archive",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	FramesPerEncode = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alphawebm_frames_per_encode",
			Help:    "Number of frames staged per encode",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	ArtifactSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alphawebm_artifact_size_bytes",
			Help:    "Size of produced webm files in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8), // 16 KiB .. 2 MiB
		},
	)

	WorkspacesRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alphawebm_workspaces_removed_total",
			Help: "Total number of expired job directories removed by the sweeper",
		},
	)
)
