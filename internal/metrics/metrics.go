package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "humanreel"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeStale   = "stale"
)

var (
	decisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_decisions_total",
			Help:      "Count of moderation decisions by decision and outcome.",
		},
		[]string{"decision", "outcome"},
	)
	publishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Latency of content-addressed publication calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
	orphanedPublications = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_publications_total",
			Help:      "Count of publications whose approval could not be recorded.",
		},
	)
	transcodeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_jobs_total",
			Help:      "Count of transcode jobs by outcome.",
		},
		[]string{"outcome"},
	)
	uploadCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Count of accepted uploads.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by method and status code.",
		},
		[]string{"method", "code"},
	)
)

var registerMetrics sync.Once

// Register adds every collector to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerMetrics.Do(func() {
		reg.MustRegister(
			decisionCounter,
			publishDuration,
			orphanedPublications,
			transcodeCounter,
			uploadCounter,
			httpRequests,
		)
	})
}

// RecordDecision counts a moderation decision attempt.
func RecordDecision(decision, outcome string) {
	decisionCounter.WithLabelValues(decision, outcome).Inc()
}

// RecordPublishDuration observes the latency of one publish call.
func RecordPublishDuration(d time.Duration) {
	publishDuration.Observe(d.Seconds())
}

// RecordOrphanedPublication counts content published without a matching approval.
func RecordOrphanedPublication() {
	orphanedPublications.Inc()
}

// RecordTranscode counts a finished transcode job.
func RecordTranscode(outcome string) {
	transcodeCounter.WithLabelValues(outcome).Inc()
}

// RecordUpload counts an accepted upload.
func RecordUpload() {
	uploadCounter.Inc()
}

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(method string, code int) {
	httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
