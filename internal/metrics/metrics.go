// Package metrics holds the Prometheus collectors of the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sealedchat"

type Metrics struct {
	MessagesAppended       *prometheus.CounterVec
	ChatRequestTransitions *prometheus.CounterVec
	EventsPublished        *prometheus.CounterVec
	EventsDropped          prometheus.Counter
	DecryptFailures        prometheus.Counter
	HTTPDuration           *prometheus.HistogramVec
}

// New registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended, by body kind (encrypted or plaintext).",
		}, []string{"kind"}),
		ChatRequestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_request_transitions_total",
			Help:      "Chat request state transitions, by resulting status.",
		}, []string{"status"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_published_total",
			Help:      "Realtime change events published, by table.",
		}, []string{"table"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_dropped_total",
			Help:      "Realtime events dropped because a subscriber queue was full.",
		}),
		DecryptFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decrypt_failures_total",
			Help:      "Messages that could not be decrypted for display.",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}
