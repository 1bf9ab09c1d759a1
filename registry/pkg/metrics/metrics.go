package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voter_stake_registry_build_info",
			Help: "Build information of the voter stake registry",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voter_stake_registry_operations_total",
			Help: "Total number of registry operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voter_stake_registry_operation_duration_seconds",
			Help:    "Duration of registry operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"operation"},
	)

	VoterWeight = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voter_stake_registry_voter_weight",
			Help:    "Voter weight written by voter weight record refreshes",
			Buckets: prometheus.ExponentialBuckets(1, 10, 16),
		},
	)

	TokenTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voter_stake_registry_token_transfers_total",
			Help: "Total number of token transfers emitted for the host ledger",
		},
		[]string{"direction"},
	)

	StoreTxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voter_stake_registry_store_transactions_total",
			Help: "Total number of store transactions",
		},
		[]string{"status"},
	)

	StoreTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voter_stake_registry_store_transaction_duration_seconds",
			Help:    "Duration of store transactions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)

	SupplyFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voter_stake_registry_supply_fetches_total",
			Help: "Total number of voting mint supply lookups by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voter_stake_registry_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voter_stake_registry_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voter_stake_registry_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// RecordOperation records the outcome of one registry operation.
func RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordStoreTx(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreTxTotal.WithLabelValues(status).Inc()
	StoreTxDuration.Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
