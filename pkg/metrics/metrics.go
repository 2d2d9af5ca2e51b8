// Package metrics exposes gateway counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// GatewayMetrics tracks mediated operations. A nil *GatewayMetrics is valid
// and records nothing.
type GatewayMetrics struct {
	// Operation metrics
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	Timeouts         prometheus.Counter

	// Permission metrics
	PermissionDecisions *prometheus.CounterVec
	Prompts             prometheus.Counter
	PromptsThrottled    prometheus.Counter

	// Quota metrics
	QuotaRejections prometheus.Counter

	// Audit metrics
	AuditFailures prometheus.Counter

	// Query metrics
	QueryDrives prometheus.Histogram
}

// NewGatewayMetrics creates and registers gateway metrics
func NewGatewayMetrics(registry prometheus.Registerer) *GatewayMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &GatewayMetrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivegate_operations_total",
			Help: "Total number of gateway operations by action and outcome",
		}, []string{"action", "outcome"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drivegate_operation_duration_seconds",
			Help:    "Gateway operation latency including paused time",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivegate_timeouts_total",
			Help: "Total number of operations that ran out of time",
		}),
		PermissionDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivegate_permission_decisions_total",
			Help: "Permission decisions by action kind and deciding rule",
		}, []string{"kind", "rule", "allowed"}),
		Prompts: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivegate_prompts_total",
			Help: "Total number of consent prompts shown to the user",
		}),
		PromptsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivegate_prompts_throttled_total",
			Help: "Total number of prompts refused by the per-origin rate limit",
		}),
		QuotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivegate_quota_rejections_total",
			Help: "Total number of writes rejected for exceeding the allowance",
		}),
		AuditFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivegate_audit_failures_total",
			Help: "Total number of audit entries that could not be stored",
		}),
		QueryDrives: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "drivegate_query_drives",
			Help:    "Number of drives fanned out to per query",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
	}
}

func (m *GatewayMetrics) ObserveOperation(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(action, outcome).Inc()
	m.OperationLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *GatewayMetrics) ObserveTimeout() {
	if m == nil {
		return
	}
	m.Timeouts.Inc()
}

func (m *GatewayMetrics) ObserveDecision(kind, rule string, allowed bool) {
	if m == nil {
		return
	}
	a := "false"
	if allowed {
		a = "true"
	}
	m.PermissionDecisions.WithLabelValues(kind, rule, a).Inc()
}

func (m *GatewayMetrics) ObservePrompt() {
	if m == nil {
		return
	}
	m.Prompts.Inc()
}

func (m *GatewayMetrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.PromptsThrottled.Inc()
}

func (m *GatewayMetrics) ObserveQuotaRejection() {
	if m == nil {
		return
	}
	m.QuotaRejections.Inc()
}

func (m *GatewayMetrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *GatewayMetrics) ObserveQuery(drives int) {
	if m == nil {
		return
	}
	m.QueryDrives.Observe(float64(drives))
}

// RegisterHandlers mounts /metrics and the liveness endpoint on mux.
func RegisterHandlers(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// StartServer serves metrics on addr in the background.
func StartServer(addr string, gatherer prometheus.Gatherer, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	RegisterHandlers(mux, gatherer)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting metrics server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
