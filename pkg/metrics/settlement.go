package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts settlement outcomes by transition result.
type SettlementMetrics struct {
	applied    *prometheus.CounterVec
	duplicates prometheus.Counter
	rejected   prometheus.Counter
	unknown    prometheus.Counter
}

// NewSettlementMetrics registers settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transitions_applied",
		Help: "Settlement transitions applied, labeled by resulting order status.",
	}, []string{"status"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_duplicate_notifications",
		Help: "Notifications skipped because the transaction was already settled.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_terminal_rejections",
		Help: "Transition attempts rejected because the order was terminal.",
	})
	unknown := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "settlement_unknown_statuses",
		Help: "Notifications carrying an unrecognized processor status.",
	})
	reg.MustRegister(applied, duplicates, rejected, unknown)
	return &SettlementMetrics{
		applied:    applied,
		duplicates: duplicates,
		rejected:   rejected,
		unknown:    unknown,
	}
}

// IncApplied records a transition that mutated order state.
func (s *SettlementMetrics) IncApplied(status string) {
	if s == nil || s.applied == nil {
		return
	}
	s.applied.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncDuplicate records a dedup short-circuit.
func (s *SettlementMetrics) IncDuplicate() {
	if s == nil || s.duplicates == nil {
		return
	}
	s.duplicates.Inc()
}

// IncRejected records a terminal-state rejection.
func (s *SettlementMetrics) IncRejected() {
	if s == nil || s.rejected == nil {
		return
	}
	s.rejected.Inc()
}

// IncUnknown records an unrecognized processor status.
func (s *SettlementMetrics) IncUnknown() {
	if s == nil || s.unknown == nil {
		return
	}
	s.unknown.Inc()
}
