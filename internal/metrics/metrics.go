// Package metrics exposes the daemon's Prometheus collectors, served on the
// API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts send attempts by final outcome
	// (sent, window_closed, gateway_error, network_error).
	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_sends_total",
		Help: "Outbound send attempts by outcome.",
	}, []string{"outcome"})

	// WindowRejections counts closed-window rejections by who decided
	// (local fast path vs authoritative server).
	WindowRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_window_rejections_total",
		Help: "Sends rejected because the service window was closed.",
	}, []string{"source"})

	// WebhookEvents counts parsed webhook records by type
	// (message, status, contact).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_webhook_events_total",
		Help: "Webhook records received by type.",
	}, []string{"type"})

	// StatusCorrections counts provider receipts that would have moved a
	// message backwards; they are logged and discarded, never applied.
	StatusCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_status_corrections_total",
		Help: "Provider status receipts discarded as invalid corrections.",
	})
)
