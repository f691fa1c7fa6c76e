package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shrink_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Reduction metrics
	ReductionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_reductions_total",
			Help: "Total number of reductions by outcome",
		},
		[]string{"outcome"}, // reduced, unchanged, unreachable, error
	)

	ReductionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shrink_reduction_duration_seconds",
			Help:    "Quality search duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"encoder"},
	)

	ReductionBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shrink_reduction_bytes",
			Help:    "Reduction input/output bytes",
			Buckets: []float64{1024, 10240, 102400, 512000, 1048576, 5242880, 10485760, 52428800},
		},
		[]string{"direction"}, // input, output
	)

	SearchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_search_attempts_total",
			Help: "Total number of encodings tried during quality searches",
		},
		[]string{"fit"}, // yes, no
	)

	ChosenQuality = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shrink_chosen_quality",
			Help:    "Normalized quality of successful reductions",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
	)

	// Queue/Pool metrics
	WorkerPoolQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shrink_worker_pool_queue_size",
			Help: "Current number of jobs in worker pool queue",
		},
	)

	WorkerPoolActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shrink_worker_pool_active_jobs",
			Help: "Current number of reductions being processed by workers",
		},
	)

	// Result cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_cache_lookups_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	// Rate limiting metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_rate_limit_exceeded_total",
			Help: "Total number of requests rejected due to rate limiting",
		},
		[]string{"ip_prefix"}, // First octet for privacy
	)

	// Concurrency metrics
	ConcurrentRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shrink_concurrent_requests",
			Help: "Current number of concurrent requests being processed",
		},
	)

	ConcurrencyLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shrink_concurrency_limit_exceeded_total",
			Help: "Total number of requests rejected due to concurrency limit",
		},
	)

	// Memory metrics
	BufferAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shrink_buffer_pool_allocations_total",
			Help: "Total number of encode buffers allocated because the pool was empty",
		},
		[]string{"size"}, // small, medium, large
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, duration float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordReduction records a finished reduction
func RecordReduction(outcome, encoder string, duration float64, inputBytes, outputBytes int) {
	ReductionsTotal.WithLabelValues(outcome).Inc()
	ReductionDuration.WithLabelValues(encoder).Observe(duration)
	ReductionBytes.WithLabelValues("input").Observe(float64(inputBytes))
	if outputBytes > 0 {
		ReductionBytes.WithLabelValues("output").Observe(float64(outputBytes))
	}
}

// RecordReductionError records a reduction that failed
func RecordReductionError() {
	ReductionsTotal.WithLabelValues("error").Inc()
}

// RecordAttempt records one encoding tried by the quality search
func RecordAttempt(fits bool) {
	label := "no"
	if fits {
		label = "yes"
	}
	SearchAttempts.WithLabelValues(label).Inc()
}

// RecordQuality records the quality chosen for a successful reduction
func RecordQuality(q float64) {
	ChosenQuality.Observe(q)
}

// UpdateWorkerPoolMetrics updates worker pool metrics
func UpdateWorkerPoolMetrics(queueSize, activeJobs int) {
	WorkerPoolQueueSize.Set(float64(queueSize))
	WorkerPoolActiveJobs.Set(float64(activeJobs))
}

// RecordCacheLookup records a result cache hit or miss
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// RecordRateLimitExceeded records a rate limit rejection
func RecordRateLimitExceeded(ipPrefix string) {
	RateLimitExceeded.WithLabelValues(ipPrefix).Inc()
}

// UpdateConcurrency updates concurrent request gauge
func UpdateConcurrency(count int) {
	ConcurrentRequests.Set(float64(count))
}

// RecordConcurrencyLimitExceeded records a concurrency limit rejection
func RecordConcurrencyLimitExceeded() {
	ConcurrencyLimitExceeded.Inc()
}

// RecordBufferAllocation records an encode buffer allocated for the given tier
func RecordBufferAllocation(size string) {
	BufferAllocations.WithLabelValues(size).Inc()
}
