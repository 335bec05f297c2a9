package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediadrop_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5 min
		},
		[]string{"method", "endpoint"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"backend"},
	)

	// Pipeline Metrics
	PipelineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_pipeline_requests_total",
			Help: "Total number of pipeline invocations by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediadrop_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27 min
		},
		[]string{"stage"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediadrop_jobs_in_progress",
			Help: "Number of composer jobs currently holding a worker slot",
		},
	)

	PlaylistItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_playlist_items_total",
			Help: "Total number of playlist items processed by outcome",
		},
		[]string{"status"},
	)

	SubtitleFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediadrop_subtitle_fallbacks_total",
			Help: "Total number of jobs finalized without the requested subtitles",
		},
	)

	// Storage Metrics
	ArtifactsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediadrop_artifacts_stored",
			Help: "Number of artifacts currently held by the store",
		},
	)

	ArtifactBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediadrop_artifact_size_bytes",
			Help:    "Size of produced artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 16), // 64KB to 2GB
		},
	)

	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_evictions_total",
			Help: "Total number of artifact evictions by outcome",
		},
		[]string{"status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	// Catalog Metrics
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_catalog_requests_total",
			Help: "Total number of catalog API requests",
		},
		[]string{"resource", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediadrop_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimited records a rejected request
func RecordRateLimited(backend string) {
	RateLimitedTotal.WithLabelValues(backend).Inc()
}

// RecordPipeline records the outcome of one pipeline operation
func RecordPipeline(operation, status string) {
	PipelineRequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordStage records the duration of a pipeline stage
func RecordStage(stage string, duration float64) {
	StageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordPlaylistItem records a processed playlist item
func RecordPlaylistItem(ok bool) {
	if ok {
		PlaylistItemsTotal.WithLabelValues("produced").Inc()
	} else {
		PlaylistItemsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordSubtitleFallback records a job that shipped without subtitles
func RecordSubtitleFallback() {
	SubtitleFallbacksTotal.Inc()
}

// RecordArtifactStored records a newly stored artifact
func RecordArtifactStored(sizeBytes int64) {
	ArtifactsStored.Inc()
	ArtifactBytes.Observe(float64(sizeBytes))
}

// RecordEviction records an eviction attempt
func RecordEviction(status string) {
	EvictionsTotal.WithLabelValues(status).Inc()
	if status == "evicted" {
		ArtifactsStored.Dec()
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordCatalogRequest records a catalog API request
func RecordCatalogRequest(resource, status string) {
	CatalogRequestsTotal.WithLabelValues(resource, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
