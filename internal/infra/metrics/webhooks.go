package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(webhookEventsTotal)
}

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Store webhook deliveries by platform, canonical event type and outcome (processed/duplicate/orphaned/decode_failed/error).",
	},
	[]string{"platform", "event_type", "outcome"},
)

func IncWebhookEvent(platform, eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(platform), norm(eventType), norm(outcome)).Inc()
}
