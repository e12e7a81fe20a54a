// Package metrics exposes the relay's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricPrefix = "wakeorpay_"

var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "registrations_total",
			Help: "Escalation registrations by result",
		},
		[]string{"result"},
	)
	cancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "cancellations_total",
			Help: "Escalation cancellations received",
		},
	)
	smsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "sms_total",
			Help: "Emergency SMS sends by trigger and result",
		},
		[]string{"trigger", "result"},
	)
	sweepDueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "sweep_due_total",
			Help: "Registrations found past deadline by the sweeper",
		},
	)
)

// IncRegistration counts a register call ("accepted" or "expired").
func IncRegistration(result string) {
	registrationsTotal.WithLabelValues(result).Inc()
}

// IncCancellation counts a cancel call.
func IncCancellation() {
	cancellationsTotal.Inc()
}

// IncSMS counts an SMS send attempt. trigger is "timeout" (client
// reported) or "sweep" (deadline passed server-side); result is
// "sent" or "failed".
func IncSMS(trigger, result string) {
	smsTotal.WithLabelValues(trigger, result).Inc()
}

// IncSweepDue counts registrations picked up by the sweeper.
func IncSweepDue() {
	sweepDueTotal.Inc()
}
