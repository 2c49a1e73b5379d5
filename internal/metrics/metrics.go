// Package metrics provides Prometheus instrumentation for the claims engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "claimcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ClaimsSubmittedTotal counts claim submissions by the status they land in.
	ClaimsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "claims_submitted_total",
			Help:      "Total claims submitted by resulting status.",
		},
		[]string{"status"},
	)

	// ClaimTransitionsTotal counts lifecycle transitions by actor and new status.
	ClaimTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "claim_transitions_total",
			Help:      "Total claim status transitions by actor and new status.",
		},
		[]string{"actor", "status"},
	)

	// RuleEvaluationsTotal counts rule evaluations by recommendation.
	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "rule_evaluations_total",
			Help:      "Total rule evaluations by overall recommendation.",
		},
		[]string{"recommendation"},
	)

	// FraudAssessmentsTotal counts fraud assessments by risk level.
	FraudAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "fraud_assessments_total",
			Help:      "Total fraud assessments by risk level.",
		},
		[]string{"level"},
	)

	// DuplicateClaimsTotal counts claims flagged by duplicate detection.
	DuplicateClaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "claimcore",
		Name:      "duplicate_claims_total",
		Help:      "Total claims flagged as duplicates.",
	})

	// VersionConflictsTotal counts optimistic-concurrency conflicts on claim writes.
	VersionConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "claimcore",
		Name:      "version_conflicts_total",
		Help:      "Total claim writes rejected due to a stale version.",
	})

	// ScoreLookupTimeoutsTotal counts external risk-score lookups that timed out.
	ScoreLookupTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "claimcore",
		Name:      "score_lookup_timeouts_total",
		Help:      "Total external risk score lookups that timed out.",
	})

	// AggregatorReconciliationsTotal counts count-store reconciliation passes by result.
	AggregatorReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "claimcore",
			Name:      "aggregator_reconciliations_total",
			Help:      "Total aggregator reconciliation passes by result.",
		},
		[]string{"result"},
	)

	// EvaluationDuration observes end-to-end submit evaluation latency.
	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "claimcore",
		Name:      "evaluation_duration_seconds",
		Help:      "Time from intake to decision (rules + fraud scoring) in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "claimcore",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "claimcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ClaimsSubmittedTotal,
		ClaimTransitionsTotal,
		RuleEvaluationsTotal,
		FraudAssessmentsTotal,
		DuplicateClaimsTotal,
		VersionConflictsTotal,
		ScoreLookupTimeoutsTotal,
		AggregatorReconciliationsTotal,
		EvaluationDuration,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
