// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendTotal counts send attempts by provider and status.
	SendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_send_total",
			Help: "Total number of send attempts",
		},
		[]string{"provider", "status"}, // status: ok, invalid, failed
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailgate_send_duration_seconds",
			Help:    "Send duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"provider"},
	)

	// MailboxOpDuration covers one whole session: dial, select and fetches.
	MailboxOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailgate_mailbox_op_duration_seconds",
			Help:    "Mailbox list or read duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"op", "status"},
	)

	MessagesListed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_messages_listed_total",
			Help: "Total number of header summaries returned",
		},
		[]string{"view"},
	)

	// MessagesSkipped counts listing entries dropped because their header
	// fetch failed.
	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_messages_skipped_total",
			Help: "Total number of messages skipped in listings",
		},
		[]string{"view"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordSend records one send attempt.
func RecordSend(provider, status string, duration time.Duration) {
	SendTotal.WithLabelValues(provider, status).Inc()
	SendDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordMailboxOp records one mailbox session.
func RecordMailboxOp(op, status string, duration time.Duration) {
	MailboxOpDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// RecordListing records the outcome of a header listing.
func RecordListing(view string, listed, skipped int) {
	MessagesListed.WithLabelValues(view).Add(float64(listed))
	MessagesSkipped.WithLabelValues(view).Add(float64(skipped))
}

// RecordHTTPRequestDuration records one HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
