// Package metrics holds the Prometheus collectors of the registration pipeline.
// Collectors are registered once on the default registry and served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propserve_registrations_staged_total",
		Help: "Registrations written to the staging store by kind",
	}, []string{"kind"})

	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propserve_reconciliations_total",
		Help: "Confirmation outcomes by channel and outcome",
	}, []string{"channel", "outcome"})

	gatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "propserve_gateway_request_duration_seconds",
		Help:    "Duration of payment gateway calls by gateway, operation and result",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"gateway", "op", "result"})

	sweeperRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propserve_sweeper_records_total",
		Help: "Expired staging records handled by the sweeper by action",
	}, []string{"action"}) // action: "removed", "redundant", "handed_off", "skipped"

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "propserve_webhook_events_total",
		Help: "Gateway webhook deliveries by gateway and handling result",
	}, []string{"gateway", "result"})
)

// IncStaged records a newly staged registration.
func IncStaged(kind string) {
	registrationsStaged.WithLabelValues(kind).Inc()
}

// IncReconciliation records the outcome of one confirmation attempt.
func IncReconciliation(channel, outcome string) {
	reconciliations.WithLabelValues(channel, outcome).Inc()
}

// ObserveGateway records a gateway call. result is "ok" or "error".
func ObserveGateway(gateway, op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(gateway, op, result).Observe(d.Seconds())
}

func IncSweeper(action string) {
	sweeperRecords.WithLabelValues(action).Inc()
}

func IncWebhook(gateway, result string) {
	webhookEvents.WithLabelValues(gateway, result).Inc()
}
