// Package metrics exposes the Prometheus surface of the oracle. Collectors
// live on a dedicated registry so the /metrics endpoint never leaks runtime
// collectors from embedding processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "price_oracle"

var registry = prometheus.NewRegistry()

var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "update_cycles_total",
		Help:      "Feed update cycles by outcome.",
	}, []string{"feed_id", "outcome"})

	cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "update_cycle_duration_seconds",
		Help:      "Wall time of a full fetch-aggregate-persist cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Upstream provider fetches by outcome.",
	}, []string{"provider", "outcome"})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Notification delivery attempts by method and outcome.",
	}, []string{"method", "outcome"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "notification_queue_depth",
		Help:      "Pending tasks in the notification queue.",
	})

	feedConfidence = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_confidence",
		Help:      "Confidence of the latest aggregate per feed.",
	}, []string{"asset_id", "currency"})

	pausedFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "paused_feeds",
		Help:      "Feeds currently paused after consecutive failures.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method and status code.",
	}, []string{"method", "code"})
)

func init() {
	registry.MustRegister(
		cyclesTotal,
		cycleDuration,
		providerRequests,
		deliveriesTotal,
		queueDepth,
		feedConfidence,
		pausedFeeds,
		httpRequests,
	)
}

// RecordCycle counts one completed update cycle.
func RecordCycle(feedID string, success bool, elapsed time.Duration) {
	cyclesTotal.WithLabelValues(feedID, outcome(success)).Inc()
	cycleDuration.Observe(elapsed.Seconds())
}

// RecordProviderRequest counts one upstream fetch.
func RecordProviderRequest(provider string, success bool) {
	providerRequests.WithLabelValues(provider, outcome(success)).Inc()
}

// RecordDelivery counts one notification delivery attempt.
func RecordDelivery(method string, success bool) {
	deliveriesTotal.WithLabelValues(method, outcome(success)).Inc()
}

// SetQueueDepth publishes the current pending-task count.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetFeedConfidence publishes the latest aggregate confidence for a pair.
func SetFeedConfidence(assetID, currency string, confidence float64) {
	feedConfidence.WithLabelValues(assetID, currency).Set(confidence)
}

// SetPausedFeeds publishes the number of paused feeds.
func SetPausedFeeds(n int) {
	pausedFeeds.Set(float64(n))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting.
func InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(httpRequests, next)
}
