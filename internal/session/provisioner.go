package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/observability"
	"handover-sim/internal/stats"
	"handover-sim/pkg/types"
)

//go:generate mockgen -source=provisioner.go -destination=../mocks/mock_provisioner.go -package=mocks

// Transport installs UDP flows on nodes and schedules their start.
type Transport interface {
	InstallFlow(ctx context.Context, f types.Flow) error
	StartFlows(ctx context.Context, flows []types.Flow, at time.Duration) error
}

// BearerActivator activates dedicated bearers at the bearer manager.
type BearerActivator interface {
	ActivateBearer(ctx context.Context, req types.BearerRequest) error
}

// SessionStore persists provisioned sessions.
type SessionStore interface {
	Save(ctx context.Context, s types.Session) error
}

// ProvisionerConfig wires a Provisioner.
type ProvisionerConfig struct {
	Ports      *PortAllocator
	Jitter     *Jitter
	Transport  Transport
	Bearers    BearerActivator
	Store      SessionStore // optional
	Stats      *stats.Collector
	Metrics    *observability.Metrics // optional
	RemoteHost types.Host
	QoS        types.QoSClass
}

// Provisioner builds per-bearer downlink/uplink flow pairs for endpoints.
type Provisioner struct {
	ports      *PortAllocator
	jitter     *Jitter
	transport  Transport
	bearers    BearerActivator
	store      SessionStore
	stats      *stats.Collector
	metrics    *observability.Metrics
	remoteHost types.Host
	qos        types.QoSClass
}

// NewProvisioner creates a provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	switch {
	case cfg.Ports == nil:
		return nil, fmt.Errorf("provisioner requires a port allocator")
	case cfg.Jitter == nil:
		return nil, fmt.Errorf("provisioner requires a jitter source")
	case cfg.Transport == nil:
		return nil, fmt.Errorf("provisioner requires a transport")
	case cfg.Bearers == nil:
		return nil, fmt.Errorf("provisioner requires a bearer activator")
	case !cfg.RemoteHost.Address.IsValid():
		return nil, fmt.Errorf("provisioner requires a remote host address")
	}
	if !cfg.QoS.Valid() {
		return nil, fmt.Errorf("unknown QoS class %q", cfg.QoS)
	}
	st := cfg.Stats
	if st == nil {
		st = stats.NewCollector()
	}

	return &Provisioner{
		ports:      cfg.Ports,
		jitter:     cfg.Jitter,
		transport:  cfg.Transport,
		bearers:    cfg.Bearers,
		store:      cfg.Store,
		stats:      st,
		metrics:    cfg.Metrics,
		remoteHost: cfg.RemoteHost,
		qos:        cfg.QoS,
	}, nil
}

// Provision creates bearerCount sessions for ep, one bearer after another.
// A rejected bearer is logged and abandoned; the returned error then joins
// every *BearerActivationError while the accepted sessions are still
// returned. Port exhaustion, transport failures, and cancellation abort
// immediately; bearers abandoned before that stay in the joined error.
func (p *Provisioner) Provision(ctx context.Context, ep *types.Endpoint, bearerCount int) ([]types.Session, error) {
	var sessions []types.Session
	var rejected []error

	for b := 0; b < bearerCount; b++ {
		if err := ctx.Err(); err != nil {
			return sessions, errors.Join(append(rejected, err)...)
		}

		s, err := p.provisionBearer(ctx, ep, b)
		if err != nil {
			var bae *BearerActivationError
			if errors.As(err, &bae) {
				log.WithError(bae.Cause).WithFields(log.Fields{
					"imsi":       ep.IMSI,
					"bearer":     b,
					"error_kind": "BearerActivationError",
				}).Warn("Bearer activation rejected, abandoning bearer")
				p.stats.RecordBearerRejected()
				p.metrics.BearerFailed()
				rejected = append(rejected, err)
				continue
			}
			return sessions, errors.Join(append(rejected, err)...)
		}
		sessions = append(sessions, s)
	}

	return sessions, errors.Join(rejected...)
}

func (p *Provisioner) provisionBearer(ctx context.Context, ep *types.Endpoint, b int) (types.Session, error) {
	dlPort, err := p.ports.NextPort(types.Downlink)
	if err != nil {
		return types.Session{}, err
	}
	ulPort, err := p.ports.NextPort(types.Uplink)
	if err != nil {
		return types.Session{}, err
	}

	flows := p.flowsFor(ep, b, dlPort, ulPort)
	for _, f := range flows {
		log.WithFields(log.Fields{
			"imsi":   ep.IMSI,
			"bearer": b,
		}).Debugf("Installing %s", f)
		if err := p.transport.InstallFlow(ctx, f); err != nil {
			return types.Session{}, fmt.Errorf("failed to install %s for IMSI %d: %w", f, ep.IMSI, err)
		}
		p.stats.RecordFlowInstalled()
		p.metrics.FlowInstalled(f.Direction.String(), f.Role.String())
	}

	tft := types.BearerTFT(dlPort, ulPort)
	req := types.BearerRequest{
		Endpoint: ep,
		Bearer:   b,
		QoS:      p.qos,
		TFT:      tft,
	}
	if err := p.bearers.ActivateBearer(ctx, req); err != nil {
		if ctx.Err() != nil {
			return types.Session{}, ctx.Err()
		}
		return types.Session{}, &BearerActivationError{IMSI: ep.IMSI, Bearer: b, Cause: err}
	}

	// one draw per bearer: downlink and uplink start together
	offset := p.jitter.SampleStartOffset()
	if err := p.transport.StartFlows(ctx, flows, offset); err != nil {
		return types.Session{}, fmt.Errorf("failed to schedule flows of IMSI %d bearer %d: %w", ep.IMSI, b, err)
	}

	s := types.Session{
		IMSI:         ep.IMSI,
		Bearer:       b,
		DownlinkPort: dlPort,
		UplinkPort:   ulPort,
		TFT:          tft,
		QoS:          p.qos,
		StartOffset:  offset,
	}
	ep.Sessions = append(ep.Sessions, s)

	if p.store != nil {
		if err := p.store.Save(ctx, s); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"imsi":   ep.IMSI,
				"bearer": b,
			}).Warn("Failed to persist session")
		}
	}

	p.stats.RecordSessionProvisioned()
	p.metrics.SessionProvisioned()

	log.WithFields(log.Fields{
		"imsi":    ep.IMSI,
		"bearer":  b,
		"dl_port": dlPort,
		"ul_port": ulPort,
		"start":   offset,
	}).Debug("Session provisioned")

	return s, nil
}

// flowsFor returns the four flows of one bearer: a downlink client on the
// remote host sending to the endpoint with its sink on the endpoint, and an
// uplink client on the endpoint sending to the remote host with its sink there.
func (p *Provisioner) flowsFor(ep *types.Endpoint, b int, dlPort, ulPort uint16) []types.Flow {
	any4 := netip.IPv4Unspecified()
	return []types.Flow{
		{
			IMSI: ep.IMSI, Bearer: b, Direction: types.Downlink, Role: types.RoleClient,
			NodeID: p.remoteHost.NodeID,
			Local:  netip.AddrPortFrom(p.remoteHost.Address, 0),
			Peer:   netip.AddrPortFrom(ep.Address, dlPort),
		},
		{
			IMSI: ep.IMSI, Bearer: b, Direction: types.Downlink, Role: types.RoleServer,
			NodeID: ep.NodeID,
			Local:  netip.AddrPortFrom(any4, dlPort),
		},
		{
			IMSI: ep.IMSI, Bearer: b, Direction: types.Uplink, Role: types.RoleClient,
			NodeID: ep.NodeID,
			Local:  netip.AddrPortFrom(ep.Address, 0),
			Peer:   netip.AddrPortFrom(p.remoteHost.Address, ulPort),
		},
		{
			IMSI: ep.IMSI, Bearer: b, Direction: types.Uplink, Role: types.RoleServer,
			NodeID: p.remoteHost.NodeID,
			Local:  netip.AddrPortFrom(any4, ulPort),
		},
	}
}

// Result is the outcome of a provisioning pass over all endpoints.
type Result struct {
	Sessions  []types.Session
	Abandoned []*BearerActivationError
}

// ProvisionAll provisions every endpoint in ascending IMSI order. Bearer
// rejections are collected in the result; any other error stops the pass.
func (p *Provisioner) ProvisionAll(ctx context.Context, endpoints []*types.Endpoint, bearerCount int) (*Result, error) {
	ordered := make([]*types.Endpoint, len(endpoints))
	copy(ordered, endpoints)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].IMSI < ordered[j].IMSI })

	result := &Result{}
	for _, ep := range ordered {
		sessions, err := p.Provision(ctx, ep, bearerCount)
		result.Sessions = append(result.Sessions, sessions...)
		if err == nil {
			continue
		}

		fatal := false
		for _, e := range unjoin(err) {
			var bae *BearerActivationError
			if errors.As(e, &bae) {
				result.Abandoned = append(result.Abandoned, bae)
			} else {
				fatal = true
			}
		}
		if fatal {
			var exhausted *ExhaustionError
			if errors.As(err, &exhausted) {
				log.WithFields(log.Fields{
					"imsi":       ep.IMSI,
					"direction":  exhausted.Direction,
					"error_kind": "ExhaustionError",
				}).Error("Port space exhausted, aborting provisioning")
			}
			return result, err
		}
	}

	log.WithFields(log.Fields{
		"endpoints": len(ordered),
		"sessions":  len(result.Sessions),
		"abandoned": len(result.Abandoned),
	}).Info("Provisioning complete")

	return result, nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
