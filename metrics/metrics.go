package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsEmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_jobs_emitted_total",
			Help: "Delivery jobs emitted by the router",
		},
		[]string{"type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Delivery jobs consumed, by outcome",
		},
		[]string{"type", "outcome"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Duration of outbound webhook POSTs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	ControlEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_control_events_total",
			Help: "Quota and circuit-breaker control events published",
		},
		[]string{"topic"},
	)

	BrokerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_broker_messages_total",
			Help: "Broker messages handled, by topic and result",
		},
		[]string{"topic", "result"},
	)

	ConfirmationsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_confirmations_released_total",
			Help: "Confirmation-pending jobs re-presented for finality",
		},
	)
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(JobsEmittedTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(ControlEventsTotal)
	prometheus.MustRegister(BrokerMessagesTotal)
	prometheus.MustRegister(ConfirmationsReleasedTotal)
}
