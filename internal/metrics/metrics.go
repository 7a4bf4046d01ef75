package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gdtrelay"

var (
	InspectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspections_total",
			Help:      "Total number of inspection requests, labeled by outcome (success or error kind).",
		},
		[]string{"outcome"},
	)

	AnalyzerDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Wall time of the external analyzer process (seconds).",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	AnalyzerInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyzer_inflight",
			Help:      "Analyzer processes currently running.",
		},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of artifact download requests, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	UploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_bytes",
			Help:      "Size of staged PDF uploads in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 8),
		},
	)

	RetentionRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_removed_total",
			Help:      "Total number of expired inspections removed by the retention sweep.",
		},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter, labeled by bucket.",
		},
		[]string{"bucket"},
	)
)

func init() {
	prometheus.MustRegister(
		InspectionsTotal,
		AnalyzerDurationSeconds,
		AnalyzerInflight,
		DownloadsTotal,
		UploadBytes,
		RetentionRemovedTotal,
		RateLimitHitsTotal,
	)
}
