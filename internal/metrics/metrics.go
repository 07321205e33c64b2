package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TransactionMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transaction_mutations_total",
			Help: "Total number of transaction mutations",
		},
		[]string{"operation", "status"},
	)

	BalanceSnapshotWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_balance_snapshot_writes_total",
			Help: "Balance snapshot rows inserted or updated",
		},
		[]string{"kind"},
	)

	RateLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rate_lookups_total",
			Help: "Exchange rate lookups by source",
		},
		[]string{"source"},
	)

	IngestThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_ingest_throttled_total",
			Help: "External transaction pushes rejected by the account lease",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordMutation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	TransactionMutationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordSnapshotWrite counts "insert", "update" and "propagate" writes.
func RecordSnapshotWrite(kind string) {
	BalanceSnapshotWritesTotal.WithLabelValues(kind).Inc()
}

func RecordRateLookup(source string) {
	RateLookupsTotal.WithLabelValues(source).Inc()
}

func RecordIngestThrottled() {
	IngestThrottledTotal.Inc()
}
