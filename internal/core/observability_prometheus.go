package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder exports persister operations as Prometheus series.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the persister collectors with reg.
// A nil reg falls back to the default registerer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archivecore_persister_operation_duration_seconds",
			Help:    "Latency of persister saves and deletes, including their handler pipelines",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		total: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archivecore_persister_operations_total",
			Help: "Persister operations by outcome",
		}, []string{"operation", "status"}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := string(AuditStatusError)
	if success {
		status = string(AuditStatusSuccess)
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.total.WithLabelValues(operation, status).Inc()
}

// LogAuditRecorder writes audit entries to a Logger.
type LogAuditRecorder struct {
	Logger Logger
}

// Record implements AuditRecorder.
func (r LogAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	if r.Logger == nil {
		return
	}
	args := []any{
		"operation", entry.Operation,
		"record_id", entry.RecordID,
		"record_type", entry.RecordType,
		"duration", entry.Duration,
	}
	if entry.Status == AuditStatusError {
		r.Logger.Warn("audit", append(args, "error", entry.Error)...)
		return
	}
	r.Logger.Info("audit", args...)
}
