package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchlane_sync_duration_seconds",
			Help:    "Duration of one account sync cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"provider", "status"},
	)

	SyncAccounts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlane_sync_accounts_total",
			Help: "Account sync cycles by outcome and error kind",
		},
		[]string{"status", "kind"},
	)

	MessagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlane_messages_fetched_total",
			Help: "Provider messages fetched after folder deduplication",
		},
		[]string{"provider"},
	)

	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchlane_messages_dropped_total",
			Help: "Messages dropped because they could not be normalized",
		},
	)

	ThreadsTouched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchlane_threads_touched_total",
			Help: "Threads upserted and recomputed by sync",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchlane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlane_outbox_published_total",
			Help: "Outbox events handed to the broker",
		},
		[]string{"status"}, // status: success, failed
	)
)

func RecordSync(provider, status, kind string, duration time.Duration) {
	SyncDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	SyncAccounts.WithLabelValues(status, kind).Inc()
}

func AddMessagesFetched(provider string, n int) {
	MessagesFetched.WithLabelValues(provider).Add(float64(n))
}

func AddMessagesDropped(n int) {
	MessagesDropped.Add(float64(n))
}

func AddThreadsTouched(n int) {
	ThreadsTouched.Add(float64(n))
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementOutboxPublished(status string) {
	OutboxPublished.WithLabelValues(status).Inc()
}
