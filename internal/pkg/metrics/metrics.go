// Package metrics exposes the Prometheus collectors of the settlement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpesa_request_duration_seconds",
		Help:    "Latency of calls to the M-Pesa API.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "result"})

	PaymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "STK push initiations by purpose and result.",
	}, []string{"purpose", "result"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliations_total",
		Help: "Gateway callbacks by reconcile outcome (applied, already_applied, unknown, error).",
	}, []string{"source", "outcome"})

	SettlementAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_anomalies_total",
		Help: "Successful payments whose settlement needs manual review.",
	}, []string{"kind"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_entries_total",
		Help: "Wallet ledger entries appended by kind.",
	}, []string{"kind"})

	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payouts_total",
		Help: "Payout request transitions by status.",
	}, []string{"status"})

	Disbursements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_disbursements_total",
		Help: "B2C disbursement calls by result.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Best-effort notifications by channel and result (sent, failed, dropped).",
	}, []string{"channel", "result"})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open payment status websocket connections on this instance.",
	})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_runs_total",
		Help: "Scheduled job runs by job and result.",
	}, []string{"job", "result"})
)
