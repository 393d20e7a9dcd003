// Package metrics defines Prometheus collectors for the reconciliation service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatabaseConnectionsGauge tracks database pool connection counts by state
	DatabaseConnectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coinpay_database_connections",
		Help: "Number of database connections by state",
	}, []string{"state"})

	// ReconciliationCyclesTotal counts reconciliation cycles by result
	ReconciliationCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpay_reconciliation_cycles_total",
		Help: "Total number of reconciliation cycles run",
	}, []string{"result"})

	// ReconciliationCycleDuration observes reconciliation cycle wall time
	ReconciliationCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coinpay_reconciliation_cycle_duration_seconds",
		Help:    "Duration of reconciliation cycles",
		Buckets: prometheus.DefBuckets,
	})

	// TransactionTransitionsTotal counts status transitions by new status and path
	TransactionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpay_transaction_transitions_total",
		Help: "Total transaction status transitions applied",
	}, []string{"status", "path"})

	// TransactionsSkippedTotal counts transactions left pending for the next cycle
	TransactionsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpay_transactions_skipped_total",
		Help: "Total transactions skipped during reconciliation",
	}, []string{"reason"})

	// WebhookNotificationsTotal counts inbound webhook notifications by result
	WebhookNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpay_webhook_notifications_total",
		Help: "Total webhook notifications received",
	}, []string{"result"})

	// ProcessorRequestsTotal counts outbound Circle API requests by operation and outcome
	ProcessorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinpay_processor_requests_total",
		Help: "Total Circle API requests",
	}, []string{"operation", "outcome"})
)

// Transition paths reported in TransactionTransitionsTotal
const (
	PathPoll    = "poll"
	PathWebhook = "webhook"
)
