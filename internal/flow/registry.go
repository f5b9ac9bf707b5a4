package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/observability"
	"handover-sim/internal/stats"
	"handover-sim/pkg/types"
)

// Scheduler runs a callback at a simulated time.
type Scheduler interface {
	Schedule(at time.Duration, fn func()) uint64
}

// StartListener is told when flows actually start.
type StartListener interface {
	FlowsStarted(flows []types.Flow, at time.Duration)
}

type entry struct {
	flow      types.Flow
	scheduled bool
	started   bool
	startAt   time.Duration
}

// Registry tracks the UDP flows installed on every node and starts them on
// the run loop. A server port can only be bound once per node.
type Registry struct {
	sched     Scheduler
	listeners []StartListener
	stats     *stats.Collector
	metrics   *observability.Metrics

	entries map[string]*entry
	order   []string
	bound   map[uint32]map[uint16]string
	mu      sync.Mutex
}

// NewRegistry creates a registry. Without a scheduler, flows start as soon
// as StartFlows is called.
func NewRegistry(sched Scheduler, st *stats.Collector, m *observability.Metrics) *Registry {
	return &Registry{
		sched:   sched,
		stats:   st,
		metrics: m,
		entries: make(map[string]*entry),
		bound:   make(map[uint32]map[uint16]string),
	}
}

// AddListener registers l for start notifications.
func (r *Registry) AddListener(l StartListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// InstallFlow records a client or server flow on its node.
func (r *Registry) InstallFlow(ctx context.Context, f types.Flow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch f.Role {
	case types.RoleClient:
		if !f.Peer.IsValid() || f.Peer.Port() == 0 {
			return fmt.Errorf("client flow %s has no peer", f.Key())
		}
	case types.RoleServer:
		if f.Local.Port() == 0 {
			return fmt.Errorf("server flow %s has no bind port", f.Key())
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := f.Key()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("flow %s already installed", key)
	}
	if f.Role == types.RoleServer {
		ports := r.bound[f.NodeID]
		if ports == nil {
			ports = make(map[uint16]string)
			r.bound[f.NodeID] = ports
		}
		if owner, ok := ports[f.Local.Port()]; ok {
			return fmt.Errorf("port %d on node %d already bound by %s", f.Local.Port(), f.NodeID, owner)
		}
		ports[f.Local.Port()] = key
	}

	r.entries[key] = &entry{flow: f}
	r.order = append(r.order, key)
	return nil
}

// StartFlows schedules installed flows to start together at the given offset.
func (r *Registry) StartFlows(ctx context.Context, flows []types.Flow, at time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	for _, f := range flows {
		e, ok := r.entries[f.Key()]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("flow %s not installed", f.Key())
		}
		if e.scheduled {
			r.mu.Unlock()
			return fmt.Errorf("flow %s already scheduled", f.Key())
		}
	}
	for _, f := range flows {
		e := r.entries[f.Key()]
		e.scheduled = true
		e.startAt = at
	}
	r.mu.Unlock()

	batch := append([]types.Flow(nil), flows...)
	if r.sched == nil {
		r.start(batch, at)
		return nil
	}
	r.sched.Schedule(at, func() { r.start(batch, at) })
	return nil
}

func (r *Registry) start(flows []types.Flow, at time.Duration) {
	r.mu.Lock()
	for _, f := range flows {
		r.entries[f.Key()].started = true
	}
	listeners := append([]StartListener(nil), r.listeners...)
	r.mu.Unlock()

	if r.stats != nil {
		r.stats.RecordFlowsStarted(len(flows))
	}
	r.metrics.FlowsStartedAdd(len(flows))

	log.WithFields(log.Fields{
		"flows": len(flows),
		"at":    at,
	}).Debug("Flows started")

	for _, l := range listeners {
		l.FlowsStarted(flows, at)
	}
}

// Flows returns every installed flow in installation order.
func (r *Registry) Flows() []types.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Flow, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k].flow)
	}
	return out
}

// Started reports whether the flow with key has started, and when it was
// scheduled to.
func (r *Registry) Started(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return false, 0
	}
	return e.started, e.startAt
}

// Counts returns how many flows are installed, scheduled and started.
func (r *Registry) Counts() (installed, scheduled, started int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		installed++
		if e.scheduled {
			scheduled++
		}
		if e.started {
			started++
		}
	}
	return
}
