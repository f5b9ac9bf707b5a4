// Package scenario wires the topology, provisioning, run loop, and event
// notifier into one scenario run.
package scenario

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"handover-sim/internal/anim"
	"handover-sim/internal/bearer"
	"handover-sim/internal/config"
	"handover-sim/internal/flow"
	"handover-sim/internal/notify"
	"handover-sim/internal/observability"
	"handover-sim/internal/rrc"
	"handover-sim/internal/session"
	"handover-sim/internal/sim"
	"handover-sim/internal/stats"
	"handover-sim/internal/store"
	"handover-sim/internal/topology"
	"handover-sim/pkg/types"
)

// Store persists sessions and can be closed once the run ends.
type Store interface {
	session.SessionStore
	Close() error
}

// Options customizes a run. Zero values fall back to the configuration.
type Options struct {
	RunID      string
	Events     io.Writer               // notifier sink; overrides output.events_file
	Registerer prometheus.Registerer   // metrics registry; a private one when nil
	Stats      *stats.Collector
	Bearers    session.BearerActivator // overrides bearer.backend
	Store      Store                   // overrides store.backend
}

// Report summarizes a finished run.
type Report struct {
	RunID             string
	Endpoints         int
	Sessions          []types.Session
	Abandoned         []*session.BearerActivationError
	EventsScheduled   int
	FlowsInstalled    int
	FlowsStarted      int
	TracePackets      int
	SimTime           time.Duration
	DownlinkPortsUsed int
	UplinkPortsUsed   int
}

// Runner executes one scenario.
type Runner struct {
	cfg     *config.Config
	opts    Options
	stats   *stats.Collector
	metrics *observability.Metrics
	runID   string
}

// New prepares a run of cfg, which must already be validated.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	st := opts.Stats
	if st == nil {
		st = stats.NewCollector()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	return &Runner{cfg: cfg, opts: opts, stats: st, metrics: metrics, runID: runID}, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Stats returns the collector the run records into.
func (r *Runner) Stats() *stats.Collector {
	return r.stats
}

// Run builds the scenario, provisions every endpoint, and advances the
// simulated clock to the configured duration. Rejected bearers are reported,
// not returned; port exhaustion and transport failures abort the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	cfg := r.cfg
	logger := log.WithField("run_id", r.runID)

	topo, err := r.buildTopology()
	if err != nil {
		return nil, err
	}

	loop := sim.NewLoop()
	bus := rrc.NewBus()

	events, closeEvents, err := r.eventSink()
	if err != nil {
		return nil, err
	}
	defer closeEvents()

	notifier := notify.New(loop, events, r.stats, r.metrics)
	if err := notifier.Register(bus); err != nil {
		return nil, err
	}

	registry := flow.NewRegistry(loop, r.stats, r.metrics)
	var tracer *flow.TraceWriter
	if cfg.Output.FlowTrace != "" {
		tracer, err = flow.NewTraceWriter(flow.TraceConfig{
			Interval:   cfg.Traffic.Interval,
			MaxPackets: cfg.Traffic.MaxPackets,
			PacketSize: cfg.Traffic.PacketSize,
		})
		if err != nil {
			return nil, err
		}
		registry.AddListener(tracer)
	}

	activator, closeBearers, err := r.bearerActivator(ctx)
	if err != nil {
		return nil, err
	}
	defer closeBearers()

	sessionStore, err := r.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	if sessionStore != nil {
		defer sessionStore.Close()
	}

	ports := session.NewPortAllocator(uint16(cfg.Network.DLPortBase), uint16(cfg.Network.ULPortBase))
	pcfg := session.ProvisionerConfig{
		Ports:      ports,
		Jitter:     session.NewJitter(cfg.Scenario.JitterMax, cfg.Scenario.Seed),
		Transport:  registry,
		Bearers:    activator,
		Stats:      r.stats,
		Metrics:    r.metrics,
		RemoteHost: topo.RemoteHost,
		QoS:        types.QoSClass(cfg.Traffic.QoSClass),
	}
	if sessionStore != nil {
		pcfg.Store = sessionStore
	}
	provisioner, err := session.NewProvisioner(pcfg)
	if err != nil {
		return nil, err
	}

	result, err := provisioner.ProvisionAll(ctx, topo.Endpoints, cfg.Scenario.BearersPerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("provisioning failed: %w", err)
	}

	script, err := r.scriptEvents(topo)
	if err != nil {
		return nil, err
	}
	scheduled := sim.Replay(loop, bus, topo, script)

	if cfg.Output.AnimFile != "" {
		if err := anim.NewExporter(cfg.Output.AnimFile).Export(topo); err != nil {
			return nil, err
		}
	}

	logger.WithFields(log.Fields{
		"sessions":  len(result.Sessions),
		"abandoned": len(result.Abandoned),
		"events":    scheduled,
		"until":     cfg.Scenario.SimDuration,
	}).Info("Starting simulated run")

	if err := loop.Run(ctx, cfg.Scenario.SimDuration); err != nil {
		return nil, fmt.Errorf("run interrupted at %s: %w", loop.Now(), err)
	}
	r.stats.Finish(loop.Now())

	report := &Report{
		RunID:             r.runID,
		Endpoints:         len(topo.Endpoints),
		Sessions:          result.Sessions,
		Abandoned:         result.Abandoned,
		EventsScheduled:   scheduled,
		SimTime:           loop.Now(),
		DownlinkPortsUsed: ports.Allocated(types.Downlink),
		UplinkPortsUsed:   ports.Allocated(types.Uplink),
	}
	report.FlowsInstalled, _, report.FlowsStarted = registry.Counts()

	if tracer != nil {
		n, err := tracer.WriteFile(cfg.Output.FlowTrace, cfg.Scenario.SimDuration)
		if err != nil {
			return report, err
		}
		report.TracePackets = n
	}
	if cfg.Output.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			logger.WithError(err).Warn("Failed to write metrics textfile")
		}
	}

	logger.WithFields(log.Fields{
		"sim_time":      report.SimTime,
		"flows_started": report.FlowsStarted,
		"events":        r.stats.TotalEvents(),
	}).Info("Simulated run complete")
	return report, nil
}

func (r *Runner) buildTopology() (*topology.Topology, error) {
	opts := topology.Options{
		EndpointCount: r.cfg.Scenario.EndpointCount,
		Stations:      r.cfg.ActiveStations(),
		UEPool:        r.cfg.Network.UEPool,
		InternetPool:  r.cfg.Network.InternetPool,
	}
	if r.cfg.Scenario.MobilityTrace != "" {
		positions, err := topology.LoadNS2Positions(r.cfg.Scenario.MobilityTrace)
		if err != nil {
			return nil, err
		}
		opts.Positions = positions
	}
	return topology.Build(opts)
}

func (r *Runner) eventSink() (io.Writer, func(), error) {
	if r.opts.Events != nil {
		return r.opts.Events, func() {}, nil
	}
	if r.cfg.Output.EventsFile == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(r.cfg.Output.EventsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open events file %s: %w", r.cfg.Output.EventsFile, err)
	}
	return f, func() { f.Close() }, nil
}

func (r *Runner) bearerActivator(ctx context.Context) (session.BearerActivator, func(), error) {
	if r.opts.Bearers != nil {
		return r.opts.Bearers, func() {}, nil
	}

	bc := r.cfg.Bearer
	table := bearer.NewTable(bc.MaxPerEndpoint, bc.RejectEvery)
	if bc.Backend != "pfcp" {
		return table, func() {}, nil
	}

	a, err := bearer.NewPFCPActivator(ctx, bearer.PFCPConfig{
		LocalAddr:    bc.SMFAddress,
		PeerAddr:     bc.UPFAddress,
		Timeout:      r.cfg.ResponseTimeout(),
		MaxRetries:   bc.MaxRetries,
		Associate:    bc.Association,
		SEIDStrategy: bearer.SEIDStrategy(bc.SEIDStrategy),
		SEIDStart:    bc.SEIDStart,
		Table:        table,
		Stats:        r.stats,
	})
	if err != nil {
		return nil, nil, err
	}
	if rtt, err := a.Heartbeat(ctx); err != nil {
		log.WithError(err).Warn("User plane did not answer heartbeat")
	} else {
		log.WithField("rtt", rtt).Info("User plane reachable")
	}

	return a, func() {
		// sessions are torn down even when the run was cancelled
		closeCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ResponseTimeout()*time.Duration(bc.MaxRetries+1))
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.WithError(err).Warn("PFCP cleanup incomplete")
		}
	}, nil
}

func (r *Runner) sessionStore(ctx context.Context) (Store, error) {
	if r.opts.Store != nil {
		return r.opts.Store, nil
	}
	sc := r.cfg.Store
	switch sc.Backend {
	case "redis":
		return store.OpenRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, r.runID)
	case "none":
		return nil, nil
	default:
		return store.NewMemory(), nil
	}
}

func (r *Runner) scriptEvents(topo *topology.Topology) ([]sim.ScriptEvent, error) {
	var events []sim.ScriptEvent
	if cell := r.cfg.Scenario.AttachCell; cell > 0 {
		events = append(events, sim.Attachments(0, topo.IMSIs(), uint16(cell))...)
	}
	if r.cfg.Scenario.ScriptFile != "" {
		script, err := sim.LoadScript(r.cfg.Scenario.ScriptFile)
		if err != nil {
			return nil, err
		}
		events = append(events, script.Expand()...)
	}
	return events, nil
}
