package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookDeliveries) }

var webhookDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event and outcome.",
	},
	[]string{"event", "outcome"}, // 'delivered', 'retried', 'dropped'
)

func IncWebhookDelivery(event, outcome string) {
	webhookDeliveries.WithLabelValues(norm(event), norm(outcome)).Inc()
}
