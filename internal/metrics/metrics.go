package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookDeliveries counts inbound fulfiller callbacks by result:
	// dispatched, orphan, parse_error, reconcile_error.
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_webhook_deliveries_total",
			Help: "Total number of fulfiller webhook deliveries",
		},
		[]string{"result"},
	)

	// ChargeAttempts counts deferred charge attempts by outcome:
	// succeeded, permanently_failed, transiently_failed.
	ChargeAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deferred_charge_attempts_total",
			Help: "Total number of deferred charge attempts",
		},
		[]string{"outcome"},
	)

	// FulfillerSubmissions counts production requests sent to the fulfiller
	// by result: accepted, failed.
	FulfillerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfiller_submissions_total",
			Help: "Total number of production requests submitted to the fulfiller",
		},
		[]string{"result"},
	)

	// SweepRecoveries counts print orders re-driven by the reconciliation sweep.
	SweepRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reconciliation_sweep_recoveries_total",
			Help: "Total number of stuck print orders re-driven by the sweep",
		},
	)
)
