// Package metrics holds the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotpay"

var (
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Reservation attempts by result.",
	}, []string{"result"})

	Completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_completions_total",
		Help:      "CompletePayment calls by trigger and result.",
	}, []string{"source", "result"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Requests sent to the payment gateway by operation and outcome.",
	}, []string{"op", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Payment gateway request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation runs by result.",
	}, []string{"result"})

	ReconcileCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_completed_total",
		Help:      "Orders completed by the reconciliation poller.",
	})

	ReleasedOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "released_orders_total",
		Help:      "Stale pending orders released, by reason.",
	}, []string{"reason"})

	LockEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lock_entries",
		Help:      "Per-order lock entries currently tracked.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Staff notifications by kind and outcome.",
	}, []string{"kind", "outcome"})
)
