package bearer

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"handover-sim/internal/network"
	"handover-sim/internal/pfcp"
	"handover-sim/internal/stats"
	"handover-sim/pkg/types"
)

// CauseError is a PFCP response carrying a cause other than Request accepted.
type CauseError struct {
	MsgType string
	Cause   uint8
}

func (e *CauseError) Error() string {
	return fmt.Sprintf("%s rejected with cause %s", e.MsgType, pfcp.CauseName(e.Cause))
}

// PFCPConfig wires a PFCPActivator.
type PFCPConfig struct {
	LocalAddr    string // control-plane "ip:port"; the IP is advertised as node id
	PeerAddr     string // user-plane "ip:port"
	Timeout      time.Duration
	MaxRetries   int
	Associate    bool
	SEIDStrategy SEIDStrategy
	SEIDStart    uint64
	DefaultQCI   uint8 // QCI of every endpoint's default bearer
	Table        *Table
	Stats        *stats.Collector
}

// PFCPActivator activates dedicated bearers at a user-plane function. The
// first bearer of an endpoint establishes its session with the default
// bearer; every dedicated bearer is then one Session Modification adding its
// PDRs, FARs, and QER.
type PFCPActivator struct {
	client  *network.Client
	tracker *network.TransactionTracker
	seq     network.SequenceCounter
	builder *pfcp.Builder
	table   *Table
	stats   *stats.Collector

	associate  bool
	associated bool
	defaultQCI uint8
	sessions   *SessionTable
	cancel     context.CancelFunc

	// serializes activations
	mu sync.Mutex
}

// NewPFCPActivator binds the control-plane socket and starts the receive and
// retransmission loops. They run until Close.
func NewPFCPActivator(ctx context.Context, cfg PFCPConfig) (*PFCPActivator, error) {
	local, err := netip.ParseAddrPort(cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid PFCP local address %q: %w", cfg.LocalAddr, err)
	}
	builder, err := pfcp.NewBuilder(local.Addr(), time.Now())
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("PFCP response timeout must be positive")
	}
	sessions, err := NewSessionTable(cfg.SEIDStrategy, cfg.SEIDStart)
	if err != nil {
		return nil, err
	}

	client, err := network.Dial(cfg.LocalAddr, cfg.PeerAddr)
	if err != nil {
		return nil, err
	}

	st := cfg.Stats
	if st == nil {
		st = stats.NewCollector()
	}
	table := cfg.Table
	if table == nil {
		table = NewTable(0, 0)
	}
	qci := cfg.DefaultQCI
	if qci == 0 {
		qci = types.NGBRVideoTCPDefault.QCI()
	}

	runCtx, cancel := context.WithCancel(ctx)
	a := &PFCPActivator{
		client:     client,
		tracker:    network.NewTransactionTracker(client, cfg.Timeout, cfg.MaxRetries, st),
		builder:    builder,
		table:      table,
		stats:      st,
		associate:  cfg.Associate,
		defaultQCI: qci,
		sessions:   sessions,
		cancel:     cancel,
	}

	client.Start(runCtx)
	go a.tracker.Consume(runCtx, client.Messages())
	a.tracker.StartTimeoutMonitor(runCtx)

	log.WithFields(log.Fields{
		"local":   client.LocalAddr().String(),
		"peer":    cfg.PeerAddr,
		"timeout": cfg.Timeout,
	}).Info("PFCP bearer backend ready")

	return a, nil
}

// Heartbeat pings the peer and returns the round-trip time.
func (a *PFCPActivator) Heartbeat(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := a.exchange(ctx, a.builder.HeartbeatRequest(a.seq.Next())); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// ActivateBearer implements session.BearerActivator.
func (a *PFCPActivator) ActivateBearer(ctx context.Context, req types.BearerRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureAssociation(ctx); err != nil {
		return err
	}

	rec, err := a.table.Reserve(req)
	if err != nil {
		return err
	}

	if err := a.activate(ctx, req, rec); err != nil {
		a.table.Release(req.Endpoint.IMSI, rec.EBI)
		return err
	}

	log.WithFields(log.Fields{
		"imsi":   req.Endpoint.IMSI,
		"bearer": req.Bearer,
		"ebi":    rec.EBI,
		"qci":    req.QoS.QCI(),
	}).Debug("Dedicated bearer installed at user plane")
	return nil
}

func (a *PFCPActivator) activate(ctx context.Context, req types.BearerRequest, rec Record) error {
	s, err := a.ensureSession(ctx, req.Endpoint)
	if err != nil {
		return err
	}

	mod, err := a.builder.DedicatedBearerRequest(a.seq.Next(), s.UPSEID, req.Endpoint.Address, pfcp.BearerRule{
		EBI: rec.EBI,
		QCI: req.QoS.QCI(),
		TFT: req.TFT,
	})
	if err != nil {
		return err
	}
	_, err = a.exchange(ctx, mod)
	return err
}

func (a *PFCPActivator) ensureAssociation(ctx context.Context) error {
	if !a.associate || a.associated {
		return nil
	}
	if _, err := a.exchange(ctx, a.builder.AssociationSetupRequest(a.seq.Next())); err != nil {
		return fmt.Errorf("PFCP association failed: %w", err)
	}
	a.associated = true
	log.Info("PFCP association established")
	return nil
}

func (a *PFCPActivator) ensureSession(ctx context.Context, ep *types.Endpoint) (PFCPSession, error) {
	if s, ok := a.sessions.Lookup(ep.IMSI); ok {
		return s, nil
	}

	cpSEID, err := a.sessions.Reserve(ep.IMSI)
	if err != nil {
		return PFCPSession{}, err
	}
	s, err := a.establish(ctx, ep, cpSEID)
	if err != nil {
		a.sessions.Drop(ep.IMSI)
		return PFCPSession{}, err
	}

	log.WithFields(log.Fields{
		"imsi":    ep.IMSI,
		"cp_seid": s.CPSEID,
		"up_seid": s.UPSEID,
	}).Debug("PFCP session established")
	return s, nil
}

func (a *PFCPActivator) establish(ctx context.Context, ep *types.Endpoint, cpSEID uint64) (PFCPSession, error) {
	est, err := a.builder.SessionEstablishmentRequest(a.seq.Next(), cpSEID, ep.Address, a.defaultQCI)
	if err != nil {
		return PFCPSession{}, err
	}
	resp, err := a.exchange(ctx, est)
	if err != nil {
		return PFCPSession{}, err
	}
	estResp, ok := resp.(*message.SessionEstablishmentResponse)
	if !ok {
		return PFCPSession{}, fmt.Errorf("expected SessionEstablishmentResponse, got %s", pfcp.MessageTypeName(resp.MessageType()))
	}
	upSEID, err := pfcp.RemoteSEID(estResp)
	if err != nil {
		return PFCPSession{}, err
	}
	return a.sessions.Bind(ep.IMSI, upSEID)
}

// exchange sends a request and returns its response once the cause, if the
// response carries one, is Request accepted.
func (a *PFCPActivator) exchange(ctx context.Context, msg message.Message) (message.Message, error) {
	name := pfcp.MessageTypeName(msg.MessageType())
	data, err := pfcp.Encode(msg)
	if err != nil {
		return nil, err
	}

	result := a.tracker.Exchange(ctx, msg.Sequence(), name, data)
	if result.Error != nil {
		return nil, result.Error
	}
	a.stats.RecordReceived(name)

	resp, err := pfcp.Decode(result.Response)
	if err != nil {
		a.stats.RecordFailure(name)
		return nil, err
	}
	if resp.MessageType() == message.MsgTypeHeartbeatResponse {
		a.stats.RecordSuccess(name, result.ResponseTime)
		return resp, nil
	}

	cause, err := pfcp.ResponseCause(resp)
	if err != nil {
		a.stats.RecordFailure(name)
		return nil, err
	}
	if cause != ie.CauseRequestAccepted {
		a.stats.RecordFailure(name)
		return nil, &CauseError{MsgType: name, Cause: cause}
	}
	a.stats.RecordSuccess(name, result.ResponseTime)
	return resp, nil
}

// SessionCount returns the number of established PFCP sessions.
func (a *PFCPActivator) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions.Established())
}

// Close deletes every established session in IMSI order, then stops the
// background loops and closes the socket.
func (a *PFCPActivator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, s := range a.sessions.Established() {
		if _, err := a.exchange(ctx, a.builder.SessionDeletionRequest(a.seq.Next(), s.UPSEID)); err != nil {
			log.WithError(err).WithField("imsi", s.IMSI).Warn("Failed to delete PFCP session")
			errs = append(errs, fmt.Errorf("delete session of IMSI %d: %w", s.IMSI, err))
		}
		a.sessions.Drop(s.IMSI)
	}

	a.cancel()
	a.tracker.CancelAll()
	if err := a.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
