// Mock user plane for exercising the PFCP bearer backend end to end.
// Accepts associations and sessions, logs the SDF filters of every dedicated
// bearer it installs, and can reject every n-th bearer to drive the
// abandonment path.
//
// Usage:
//
//	go run ./test/mockupf [--addr 127.0.0.1:8805] [--reject-every 3]
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"handover-sim/internal/pfcp"
)

type upSession struct {
	cpSEID  uint64
	bearers int
}

type mockUPF struct {
	addr        string
	nodeIP      net.IP
	recovery    time.Time
	rejectEvery int

	conn *net.UDPConn

	mu          sync.Mutex
	sessions    map[uint64]*upSession // keyed by UP SEID
	nextUPSEID  uint64
	bearerCount int
	received    int
	sent        int
	rejected    int
	errors      int
}

func newMockUPF(addr string, rejectEvery int) *mockUPF {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = "127.0.0.1"
	}
	return &mockUPF{
		addr:        addr,
		nodeIP:      net.ParseIP(host),
		recovery:    time.Now(),
		rejectEvery: rejectEvery,
		sessions:    make(map[uint64]*upSession),
		nextUPSEID:  1,
	}
}

func (u *mockUPF) listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("resolve addr: %w", err)
	}
	u.conn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.WithField("addr", u.conn.LocalAddr()).Info("Mock user plane listening")
	return nil
}

func (u *mockUPF) serve() error {
	buf := make([]byte, 65535)
	for {
		n, peer, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("Read failed")
			continue
		}

		u.mu.Lock()
		u.received++
		u.mu.Unlock()

		resp, err := u.handle(buf[:n])
		if err != nil {
			log.WithError(err).Warn("Request dropped")
			u.mu.Lock()
			u.errors++
			u.mu.Unlock()
			continue
		}
		if _, err := u.conn.WriteToUDP(resp, peer); err != nil {
			log.WithError(err).Warn("Write failed")
			continue
		}
		u.mu.Lock()
		u.sent++
		u.mu.Unlock()
	}
}

// handle decodes one request and returns the encoded response.
func (u *mockUPF) handle(data []byte) ([]byte, error) {
	msg, err := pfcp.Decode(data)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"type": pfcp.MessageTypeName(msg.MessageType()),
		"seq":  msg.Sequence(),
	}).Debug("Request received")

	var resp message.Message
	switch req := msg.(type) {
	case *message.AssociationSetupRequest:
		resp = message.NewAssociationSetupResponse(req.Sequence(),
			ie.NewNodeID(u.nodeIP.String(), "", ""),
			ie.NewCause(ie.CauseRequestAccepted),
			ie.NewRecoveryTimeStamp(u.recovery),
		)
	case *message.HeartbeatRequest:
		resp = message.NewHeartbeatResponse(req.Sequence(), ie.NewRecoveryTimeStamp(u.recovery))
	case *message.SessionEstablishmentRequest:
		resp, err = u.establish(req)
	case *message.SessionModificationRequest:
		resp, err = u.modify(req)
	case *message.SessionDeletionRequest:
		resp, err = u.delete(req)
	default:
		return nil, fmt.Errorf("unhandled message type %s", pfcp.MessageTypeName(msg.MessageType()))
	}
	if err != nil {
		return nil, err
	}
	return pfcp.Encode(resp)
}

func (u *mockUPF) establish(req *message.SessionEstablishmentRequest) (message.Message, error) {
	if req.CPFSEID == nil {
		return nil, fmt.Errorf("no CP F-SEID in establishment request")
	}
	fseid, err := req.CPFSEID.FSEID()
	if err != nil {
		return nil, fmt.Errorf("parse CP F-SEID: %w", err)
	}

	u.mu.Lock()
	upSEID := u.nextUPSEID
	u.nextUPSEID++
	u.sessions[upSEID] = &upSession{cpSEID: fseid.SEID}
	u.mu.Unlock()

	log.WithFields(log.Fields{
		"cp_seid": fseid.SEID,
		"up_seid": upSEID,
		"pdrs":    len(req.CreatePDR),
	}).Info("Session established")

	return message.NewSessionEstablishmentResponse(0, 0, fseid.SEID, req.Sequence(), 0,
		ie.NewNodeID(u.nodeIP.String(), "", ""),
		ie.NewCause(ie.CauseRequestAccepted),
		ie.NewFSEID(upSEID, u.nodeIP, nil),
	), nil
}

// modify installs one dedicated bearer per request.
func (u *mockUPF) modify(req *message.SessionModificationRequest) (message.Message, error) {
	u.mu.Lock()
	s, ok := u.sessions[req.SEID()]
	if !ok {
		u.mu.Unlock()
		return nil, fmt.Errorf("unknown UP SEID %d in modification request", req.SEID())
	}
	u.bearerCount++
	reject := u.rejectEvery > 0 && u.bearerCount%u.rejectEvery == 0
	if reject {
		u.rejected++
	} else {
		s.bearers++
	}
	cpSEID := s.cpSEID
	u.mu.Unlock()

	cause := uint8(ie.CauseRequestAccepted)
	if reject {
		cause = ie.CauseNoResourcesAvailable
	}

	entry := log.WithFields(log.Fields{
		"up_seid": req.SEID(),
		"qfi":     bearerQFI(req.CreateQER),
		"cause":   pfcp.CauseName(cause),
	})
	for _, fd := range flowDescriptions(req.CreatePDR) {
		entry.WithField("sdf", fd).Debug("SDF filter")
	}
	entry.WithField("pdrs", len(req.CreatePDR)).Info("Dedicated bearer request")

	return message.NewSessionModificationResponse(0, 0, cpSEID, req.Sequence(), 0,
		ie.NewCause(cause),
	), nil
}

func (u *mockUPF) delete(req *message.SessionDeletionRequest) (message.Message, error) {
	u.mu.Lock()
	s, ok := u.sessions[req.SEID()]
	if ok {
		delete(u.sessions, req.SEID())
	}
	u.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown UP SEID %d in deletion request", req.SEID())
	}

	log.WithFields(log.Fields{
		"up_seid": req.SEID(),
		"bearers": s.bearers,
	}).Info("Session deleted")

	return message.NewSessionDeletionResponse(0, 0, s.cpSEID, req.Sequence(), 0,
		ie.NewCause(ie.CauseRequestAccepted),
	), nil
}

func flowDescriptions(pdrs []*ie.IE) []string {
	var out []string
	for _, pdr := range pdrs {
		for _, pdi := range pdr.ChildIEs {
			if pdi.Type != ie.PDI {
				continue
			}
			for _, child := range pdi.ChildIEs {
				if child.Type != ie.SDFFilter {
					continue
				}
				if f, err := child.SDFFilter(); err == nil {
					out = append(out, f.FlowDescription)
				}
			}
		}
	}
	return out
}

func bearerQFI(qers []*ie.IE) uint8 {
	for _, qer := range qers {
		for _, child := range qer.ChildIEs {
			if child.Type != ie.QFI {
				continue
			}
			if qfi, err := child.QFI(); err == nil {
				return qfi
			}
		}
	}
	return 0
}

func (u *mockUPF) printStats() {
	u.mu.Lock()
	defer u.mu.Unlock()
	log.WithFields(log.Fields{
		"received": u.received,
		"sent":     u.sent,
		"rejected": u.rejected,
		"errors":   u.errors,
		"sessions": len(u.sessions),
	}).Info("Mock user plane stats")
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8805", "UDP address to listen on")
	rejectEvery := flag.Int("reject-every", 0, "Reject every n-th dedicated bearer (0 accepts all)")
	verbose := flag.Bool("v", false, "Log every SDF filter")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	upf := newMockUPF(*addr, *rejectEvery)
	if err := upf.listen(); err != nil {
		log.WithError(err).Fatal("Mock user plane failed to start")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("Shutting down")
		upf.printStats()
		upf.conn.Close()
	}()

	if err := upf.serve(); err != nil {
		log.WithError(err).Fatal("Mock user plane error")
	}
}
