package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "checkinsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Check-in submissions by result.",
		},
		[]string{"result"},
	)

	passes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Drain passes by outcome.",
		},
		[]string{"outcome"},
	)

	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_pass_duration_seconds",
			Help:      "Time spent in one drain pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Unsynced intents still eligible for automatic retry.",
		},
	)

	queueFailed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_failed",
			Help:      "Unsynced intents that are exhausted or rejected.",
		},
	)
)

// Submission results.
const (
	ResultSynced           = "synced"
	ResultAlreadyCheckedIn = "already_checked_in"
	ResultRejected         = "rejected"
	ResultRetry            = "retry"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, submissions, passes, passDuration, queuePending, queueFailed)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncSubmission counts one submission attempt by result.
func IncSubmission(result string) {
	submissions.WithLabelValues(result).Inc()
}

// ObservePass records a finished drain pass.
func ObservePass(outcome string, d time.Duration) {
	passes.WithLabelValues(outcome).Inc()
	passDuration.Observe(d.Seconds())
}

// SetQueueGauges publishes the aggregate queue counts.
func SetQueueGauges(pending, failed int) {
	queuePending.Set(float64(pending))
	queueFailed.Set(float64(failed))
}
