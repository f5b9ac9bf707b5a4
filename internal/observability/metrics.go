package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus counters of a scenario run. All methods are
// safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	SessionsProvisioned prometheus.Counter
	BearerFailures      prometheus.Counter
	FlowsInstalled      *prometheus.CounterVec
	FlowsStarted        prometheus.Counter
	Events              *prometheus.CounterVec
	MalformedEvents     prometheus.Counter
}

// NewMetrics registers the scenario metrics against reg, defaulting to the
// global registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	sessions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handover_sessions_provisioned_total",
		Help: "Dedicated bearers accepted and started.",
	}), "handover_sessions_provisioned_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handover_bearer_activation_failures_total",
		Help: "Dedicated bearers rejected by the bearer manager and abandoned.",
	}), "handover_bearer_activation_failures_total")
	if err != nil {
		return nil, err
	}
	installed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handover_flows_installed_total",
		Help: "UDP flows installed, labeled by direction and role.",
	}, []string{"direction", "role"}), "handover_flows_installed_total")
	if err != nil {
		return nil, err
	}
	started, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handover_flows_started_total",
		Help: "UDP flows whose scheduled start time was reached.",
	}), "handover_flows_started_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handover_connectivity_events_total",
		Help: "Connectivity events rendered by the notifier, labeled by role and kind.",
	}, []string{"role", "kind"}), "handover_connectivity_events_total")
	if err != nil {
		return nil, err
	}
	malformed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handover_malformed_events_total",
		Help: "Connectivity events dropped because a field was out of range.",
	}), "handover_malformed_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:            gatherer,
		SessionsProvisioned: sessions,
		BearerFailures:      failures,
		FlowsInstalled:      installed,
		FlowsStarted:        started,
		Events:              events,
		MalformedEvents:     malformed,
	}, nil
}

func (m *Metrics) SessionProvisioned() {
	if m == nil {
		return
	}
	m.SessionsProvisioned.Inc()
}

func (m *Metrics) BearerFailed() {
	if m == nil {
		return
	}
	m.BearerFailures.Inc()
}

func (m *Metrics) FlowInstalled(direction, role string) {
	if m == nil {
		return
	}
	m.FlowsInstalled.WithLabelValues(direction, role).Inc()
}

func (m *Metrics) FlowsStartedAdd(n int) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(float64(n))
}

func (m *Metrics) Event(role, kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(role, kind).Inc()
}

func (m *Metrics) MalformedEvent() {
	if m == nil {
		return
	}
	m.MalformedEvents.Inc()
}

// WriteTextfile writes every gathered metric to path in the Prometheus text
// exposition format, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.gatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
