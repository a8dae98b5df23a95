package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Counter of repository method calls.
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Histogram of repository call durations.
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Verification outcomes by protocol variant and result.
	VerificationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Total number of payment verification attempts",
		},
		[]string{"payment_type", "result"},
	)

	// Oracle call attempts by outcome.
	OracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_calls_total",
			Help: "Total number of price oracle calls",
		},
		[]string{"status"},
	)

	// Settlements that failed after a successful claim. These rows need
	// re-driving; anything stuck here is a reconciliation task.
	SettlementFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Settlement writes that failed after the ledger claim succeeded",
		},
		[]string{"action"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		VerificationResults,
		OracleCalls,
		SettlementFailures,
	)
}
