package autorepair

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Metrics component from spec §6, plus the supplemented
// repairTurnDecision/ringSnapshotAge additions from SPEC_FULL §7. The
// repairTurnDecision counter vector is zero-initialized per label the way
// cortex's updateRingMetrics does, so dashboards never show a gap for a
// decision that simply hasn't happened yet this process.
type Metrics struct {
	repairDelayedBySchedule   *prometheus.CounterVec
	repairDelayedByReplica    *prometheus.CounterVec
	cycleStarts               *prometheus.CounterVec
	cycleFinishes             *prometheus.CounterVec
	assignmentsSkippedByBudget *prometheus.CounterVec
	repairStartLag            *prometheus.HistogramVec
	repairTurnDecision        *prometheus.CounterVec
	ringSnapshotAge           prometheus.Gauge
}

var allDecisions = []TurnDecision{NotMyTurn, MyTurn, MyTurnDueToPriority, MyTurnForceRepair}

// NewMetrics registers the auto-repair metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		repairDelayedBySchedule: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_delayed_by_schedule_total",
			Help: "Number of ticks this node was deferred because the schedule's parallel limit was reached.",
		}, []string{"repair_type"}),
		repairDelayedByReplica: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_delayed_by_replica_total",
			Help: "Number of ticks this node was deferred because it was already repairing under another schedule.",
		}, []string{"repair_type"}),
		cycleStarts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_cycle_starts_total",
			Help: "Number of repair cycles started.",
		}, []string{"repair_type"}),
		cycleFinishes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_cycle_finishes_total",
			Help: "Number of repair cycles finished.",
		}, []string{"repair_type"}),
		assignmentsSkippedByBudget: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_assignments_skipped_by_budget_total",
			Help: "Number of assignments skipped because max_bytes_per_schedule was reached.",
		}, []string{"repair_type"}),
		repairStartLag: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auto_repair_start_lag_seconds",
			Help:    "Delta from this node's last finish to its next MY_TURN.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1m .. ~34h
		}, []string{"repair_type"}),
		repairTurnDecision: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "auto_repair_turn_decision_total",
			Help: "Number of turn decisions made, by decision.",
		}, []string{"repair_type", "decision"}),
		ringSnapshotAge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "auto_repair_ring_snapshot_age_seconds",
			Help: "Age of the ring membership snapshot used by the most recent tick.",
		}),
	}

	for _, t := range []RepairType{Full, Incremental, PreviewRepaired} {
		for _, d := range allDecisions {
			m.repairTurnDecision.WithLabelValues(string(t), d.String())
		}
	}

	return m
}

func (m *Metrics) ObserveDecision(t RepairType, d TurnDecision) {
	m.repairTurnDecision.WithLabelValues(string(t), d.String()).Inc()
}

func (m *Metrics) ObserveDelayedBySchedule(t RepairType) {
	m.repairDelayedBySchedule.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ObserveDelayedByReplica(t RepairType) {
	m.repairDelayedByReplica.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ObserveCycleStart(t RepairType) {
	m.cycleStarts.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ObserveCycleFinish(t RepairType) {
	m.cycleFinishes.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ObserveAssignmentsSkipped(t RepairType, n int) {
	m.assignmentsSkippedByBudget.WithLabelValues(string(t)).Add(float64(n))
}

func (m *Metrics) ObserveStartLagSeconds(t RepairType, seconds float64) {
	m.repairStartLag.WithLabelValues(string(t)).Observe(seconds)
}

func (m *Metrics) SetRingSnapshotAge(seconds float64) {
	m.ringSnapshotAge.Set(seconds)
}
