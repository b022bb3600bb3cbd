package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность перехода под replica-lock (load + transition + save)
	TransitionDuration *prometheus.HistogramVec

	// Traffic: решения по этапам
	DecisionsTotal *prometheus.CounterVec

	// Errors: классификация отказов движка
	ErrorTotal *prometheus.CounterVec

	// Bulk: размер пачек и доля проваленных позиций
	BulkItemsTotal *prometheus.CounterVec

	// Saturation: заполненность буфера аудита (backpressure)
	AuditBufferFill prometheus.Gauge

	// SLA: сколько активных заявок просрочено (обновляет slawatch)
	OverdueRequests prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TransitionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wing_workflow_transition_duration_seconds",
			Help:    "Histogram of request transition latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"operation", "status"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "wing_workflow_decisions_total",
			Help: "Total number of stage decisions.",
		}, []string{"request_type", "decision"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "wing_workflow_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: not_current_approver, finalized, validation, dependency

		BulkItemsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "wing_workflow_bulk_items_total",
			Help: "Bulk action items by outcome.",
		}, []string{"action", "outcome"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wing_workflow_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		OverdueRequests: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wing_workflow_overdue_requests",
			Help: "Number of active requests whose current stage breached its SLA.",
		}),
	}
}
