package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics records engine-level counters. A nil *Metrics is a valid no-op so
// tests can pass nothing.
type Metrics struct {
	sessionsCreated prometheus.Counter
	transitions     *prometheus.CounterVec
	charges         *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// New registers the engine metrics on the provided registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grouporder_sessions_created_total",
		Help: "Group-order sessions created.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grouporder_session_transitions_total",
		Help: "Session state transitions by target status.",
	}, []string{"to"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grouporder_charges_total",
		Help: "Participant charges by outcome.",
	}, []string{"outcome"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "grouporder_active_sessions",
		Help: "Sessions currently held in the registry.",
	})
	reg.MustRegister(sessionsCreated, transitions, charges, activeSessions)
	return &Metrics{
		sessionsCreated: sessionsCreated,
		transitions:     transitions,
		charges:         charges,
		activeSessions:  activeSessions,
	}
}

func (m *Metrics) IncSessionsCreated() {
	if m == nil || m.sessionsCreated == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) IncCharge(outcome string) {
	if m == nil || m.charges == nil {
		return
	}
	m.charges.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
