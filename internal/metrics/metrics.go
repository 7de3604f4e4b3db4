// Package metrics exposes Prometheus counters for the messaging pipeline.
// Webhook-side failures are invisible to operators by design, so these
// counters are the primary monitoring surface for silent drops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts normalized events by platform and kind.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edbase_webhook_events_total",
		Help: "Normalized webhook events processed, by platform and kind.",
	}, []string{"platform", "kind"})

	// WebhookDropped counts payloads or events dropped before persistence.
	WebhookDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edbase_webhook_dropped_total",
		Help: "Webhook payloads dropped, by platform and reason.",
	}, []string{"platform", "reason"})

	// DuplicateMessages counts inbound replays suppressed by idempotency.
	DuplicateMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edbase_duplicate_messages_total",
		Help: "Inbound messages skipped as vendor webhook replays.",
	}, []string{"platform"})

	// ReceiptsUnmatched counts receipts referencing unknown message ids; a
	// sustained rate suggests missed webhooks rather than benign races.
	ReceiptsUnmatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edbase_receipts_unmatched_total",
		Help: "Delivery/read receipts referencing an unknown vendor message id.",
	}, []string{"platform"})

	// SendFailures counts vendor-rejected outbound sends.
	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edbase_send_failures_total",
		Help: "Outbound sends rejected by the vendor API.",
	}, []string{"platform"})
)
