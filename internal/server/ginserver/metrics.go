package ginserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/agentkit/internal/agent"
)

var (
	agentRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	agentRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	agentRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_runs_total",
		Help: "Total entrypoint runs by entrypoint, kind, and status.",
	}, []string{"entrypoint", "kind", "status"})

	agentRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_run_duration_seconds",
		Help:    "Entrypoint handler duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"entrypoint", "kind"})

	agentPaymentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_payment_outcomes_total",
		Help: "Total paywall decisions by route and outcome.",
	}, []string{"route", "outcome"})

	agentPaidRoutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_paid_routes",
		Help: "Number of route descriptors gated by the paywall.",
	})

	agentLedgerEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_ledger_entries_total",
		Help: "Total ledger entries appended.",
	})

	agentDependencyProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dependency_probes_total",
		Help: "Total dependency health probes by target and result.",
	}, []string{"target", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		agentRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		agentRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordPaymentOutcome counts one paywall decision. It matches
// paywall.PaywallConfig.OnOutcome.
func RecordPaymentOutcome(route, outcome string) {
	agentPaymentOutcomesTotal.WithLabelValues(route, outcome).Inc()
}

// RecordProbe counts one dependency probe. It matches
// health.MetricsRecordFunc.
func RecordProbe(target string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	agentDependencyProbesTotal.WithLabelValues(target, result).Inc()
}

// SetPaidRoutes sets the paid route gauge.
func SetPaidRoutes(n int) {
	agentPaidRoutes.Set(float64(n))
}

// InstrumentRecorder counts every run before handing it to next. A nil next
// only counts.
func InstrumentRecorder(next agent.Recorder) agent.Recorder {
	return &instrumentedRecorder{next: next}
}

type instrumentedRecorder struct {
	next agent.Recorder
}

func (r *instrumentedRecorder) Record(ctx context.Context, run agent.Run) error {
	agentRunsTotal.WithLabelValues(run.Key, string(run.Kind), run.Status).Inc()
	agentRunDuration.WithLabelValues(run.Key, string(run.Kind)).Observe(run.Duration.Seconds())
	if r.next == nil {
		return nil
	}
	if err := r.next.Record(ctx, run); err != nil {
		return err
	}
	agentLedgerEntriesTotal.Inc()
	return nil
}
