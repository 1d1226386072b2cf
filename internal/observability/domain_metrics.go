package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	assistRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetflow_assist_requests_total",
			Help: "Total number of formula assist requests by final outcome.",
		},
		[]string{"outcome"},
	)
	assistAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetflow_assist_attempts_total",
			Help: "Total number of provider attempts in the assist waterfall.",
		},
		[]string{"provider", "outcome"},
	)
	assistAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetflow_assist_attempt_duration_seconds",
			Help:    "Duration of individual provider attempts.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"provider"},
	)
	assistWaterfallDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetflow_assist_waterfall_duration_seconds",
			Help:    "End-to-end duration of one assist waterfall run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
	)
	uploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetflow_uploads_total",
			Help: "Total number of accepted file uploads.",
		},
	)
	uploadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetflow_upload_bytes_total",
			Help: "Total bytes accepted across file uploads.",
		},
	)
	presignedURLsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetflow_presigned_urls_total",
			Help: "Total number of temporary access URLs issued.",
		},
	)
	exportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetflow_exports_total",
			Help: "Total number of file exports by target format.",
		},
		[]string{"format"},
	)
	exportRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetflow_export_rows_total",
			Help: "Total rows written across all exports.",
		},
	)
	previewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetflow_previews_total",
			Help: "Total number of dataset previews by reader kind.",
		},
		[]string{"reader"},
	)
)

func init() {
	prometheus.MustRegister(
		assistRequestsTotal,
		assistAttemptsTotal,
		assistAttemptDurationSeconds,
		assistWaterfallDurationSeconds,
		uploadsTotal,
		uploadBytesTotal,
		presignedURLsTotal,
		exportsTotal,
		exportRowsTotal,
		previewsTotal,
	)
}

func ObserveAssistAttempt(provider, outcome string, elapsed time.Duration) {
	assistAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	assistAttemptDurationSeconds.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func ObserveAssistRun(outcome string, elapsed time.Duration) {
	assistRequestsTotal.WithLabelValues(outcome).Inc()
	assistWaterfallDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveUpload(sizeBytes int64) {
	uploadsTotal.Inc()
	if sizeBytes > 0 {
		uploadBytesTotal.Add(float64(sizeBytes))
	}
}

func IncrementPresignedURL() {
	presignedURLsTotal.Inc()
}

func ObserveExport(format string, rows int) {
	exportsTotal.WithLabelValues(format).Inc()
	if rows > 0 {
		exportRowsTotal.Add(float64(rows))
	}
}

func IncrementPreview(reader string) {
	previewsTotal.WithLabelValues(reader).Inc()
}
