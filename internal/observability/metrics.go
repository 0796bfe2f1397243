// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Contribution metrics
	ContributionOutcomes *prometheus.CounterVec
	FundAttempts         prometheus.Counter
	ContributionDuration prometheus.Histogram

	// Claim metrics
	ClaimOutcomes *prometheus.CounterVec

	// Quest metrics
	QuestCompletions prometheus.Counter

	// Pool metrics
	PoolRefreshes       prometheus.Counter
	InvariantViolations *prometheus.CounterVec

	// Ledger metrics
	LedgerCallLatency *prometheus.HistogramVec
	LedgerCallErrors  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pulse_rewards"
	}
	f := promauto.With(reg)

	return &Metrics{
		ContributionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contribution",
			Name:      "outcomes_total",
			Help:      "Contribution attempts by terminal state and failure reason",
		}, []string{"state", "reason"}),
		FundAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contribution",
			Name:      "fund_attempts_total",
			Help:      "Total number of pull-transfer attempts",
		}),
		ContributionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "contribution",
			Name:      "duration_seconds",
			Help:      "Time from approval to terminal state",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),

		ClaimOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claim",
			Name:      "outcomes_total",
			Help:      "Claim attempts by outcome kind",
		}, []string{"kind"}),

		QuestCompletions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "completions_total",
			Help:      "Quest completions recorded locally",
		}),

		PoolRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "refreshes_total",
			Help:      "Authoritative pool refreshes",
		}),
		InvariantViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "invariant_violations_total",
			Help:      "Pool refreshes failing an invariant check, by violation",
		}, []string{"violation"}),

		LedgerCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		LedgerCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_errors_total",
			Help:      "Failed ledger RPC calls",
		}, []string{"method"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordContribution records a contribution reaching a terminal state.
func RecordContribution(state, reason string, seconds float64) {
	DefaultMetrics.ContributionOutcomes.WithLabelValues(state, reason).Inc()
	DefaultMetrics.ContributionDuration.Observe(seconds)
}

// RecordFundAttempt increments the pull-transfer attempt counter.
func RecordFundAttempt() {
	DefaultMetrics.FundAttempts.Inc()
}

// RecordClaim records a claim outcome.
func RecordClaim(kind string) {
	DefaultMetrics.ClaimOutcomes.WithLabelValues(kind).Inc()
}

// RecordQuestCompletion increments the quest completion counter.
func RecordQuestCompletion() {
	DefaultMetrics.QuestCompletions.Inc()
}

// RecordPoolRefresh records an authoritative refresh and its invariant result.
func RecordPoolRefresh(violation string) {
	DefaultMetrics.PoolRefreshes.Inc()
	if violation != "" {
		DefaultMetrics.InvariantViolations.WithLabelValues(violation).Inc()
	}
}

// RecordLedgerCall records ledger call latency.
func RecordLedgerCall(method string, seconds float64, err error) {
	DefaultMetrics.LedgerCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		DefaultMetrics.LedgerCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
