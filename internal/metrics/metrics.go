package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_messages_evaluated_total",
			Help: "Messages seen by the spam engine by result (clean, violation, skipped, error)",
		},
		[]string{"result"},
	)

	HeuristicTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_heuristic_triggers_total",
			Help: "Triggered heuristic verdicts by heuristic kind",
		},
		[]string{"heuristic"},
	)

	EnforcementActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_enforcement_actions_total",
			Help: "Enforcement attempts by action and outcome status",
		},
		[]string{"action", "status"},
	)

	BestEffortDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antispam_best_effort_total",
			Help: "Best-effort side effects (dm, message_delete, log_channel) by result",
		},
		[]string{"kind", "result"},
	)

	AuditRecordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antispam_audit_records_dropped_total",
			Help: "Audit records dropped because the audit queue was full or closed",
		},
	)

	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "antispam_evaluation_duration_seconds",
			Help:    "Time spent in the spam engine per message, enforcement included",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
	)

	PlatformBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "antispam_platform_breaker_state",
			Help: "Platform circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	InfractionWritesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antispam_infraction_writes_dropped_total",
			Help: "Infraction history writes dropped because the writer queue was full or closed",
		},
	)

	LedgerSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "antispam_ledger_swept_total",
			Help: "Violation records cleared by the decay sweep",
		},
	)
)

var registerOnce sync.Once

func RegisterAntispamMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesEvaluated,
			HeuristicTriggers,
			EnforcementActions,
			BestEffortDeliveries,
			AuditRecordsDropped,
			EvaluationDuration,
			PlatformBreakerState,
			LedgerSwept,
			InfractionWritesDropped,
		)
	})
}
