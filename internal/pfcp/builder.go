package pfcp

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"

	"handover-sim/pkg/types"
)

const (
	// DefaultBearerID is the EPS bearer id of the default bearer.
	DefaultBearerID uint8 = 5
	// FirstDedicatedBearerID is the lowest EPS bearer id a dedicated bearer can take.
	FirstDedicatedBearerID uint8 = 6
	// LastDedicatedBearerID is the highest EPS bearer id.
	LastDedicatedBearerID uint8 = 15
	// MaxFiltersPerBearer bounds the packet filters one bearer rule may carry.
	MaxFiltersPerBearer = 8

	defaultPrecedence   = 255
	dedicatedPrecedence = 100
	networkInstance     = "internet"
	applyActionForward  = 0x02
	gateOpen            = 0
)

// BearerRule describes one dedicated bearer as installed at the user plane.
type BearerRule struct {
	EBI uint8 // EPS bearer id, 6..15
	QCI uint8
	TFT types.TrafficFilterTemplate
}

// Builder constructs the PFCP requests a control-plane function sends to
// activate bearers for simulated endpoints.
type Builder struct {
	nodeIP   net.IP
	recovery time.Time
}

// NewBuilder creates a builder advertising nodeIP as CP node id and F-SEID address.
func NewBuilder(nodeIP netip.Addr, recovery time.Time) (*Builder, error) {
	if !nodeIP.Is4() {
		return nil, fmt.Errorf("control-plane node address must be IPv4, got %s", nodeIP)
	}
	return &Builder{
		nodeIP:   net.IP(nodeIP.AsSlice()),
		recovery: recovery,
	}, nil
}

func (b *Builder) nodeID() *ie.IE {
	return ie.NewNodeID(b.nodeIP.String(), "", "")
}

// AssociationSetupRequest builds the request that opens the PFCP association.
func (b *Builder) AssociationSetupRequest(seq uint32) *message.AssociationSetupRequest {
	return message.NewAssociationSetupRequest(seq,
		b.nodeID(),
		ie.NewRecoveryTimeStamp(b.recovery),
		ie.NewCPFunctionFeatures(0),
	)
}

// HeartbeatRequest builds a heartbeat carrying our recovery time stamp.
func (b *Builder) HeartbeatRequest(seq uint32) *message.HeartbeatRequest {
	return message.NewHeartbeatRequest(seq, ie.NewRecoveryTimeStamp(b.recovery), nil)
}

// SessionEstablishmentRequest builds the session of one endpoint with its
// default bearer: an uplink and a downlink PDR matching every packet of ue,
// their forwarding FARs, and one open QER.
func (b *Builder) SessionEstablishmentRequest(seq uint32, cpSEID uint64, ue netip.Addr, qci uint8) (*message.SessionEstablishmentRequest, error) {
	if !ue.Is4() {
		return nil, fmt.Errorf("endpoint address must be IPv4, got %s", ue)
	}
	ulFAR, dlFAR := farIDs(DefaultBearerID)
	qerID := uint32(DefaultBearerID)

	return message.NewSessionEstablishmentRequest(
		0, 0,
		0, // SEID = 0 for establishment
		seq,
		0,
		b.nodeID(),
		ie.NewFSEID(cpSEID, b.nodeIP, nil),
		ie.NewCreatePDR(
			ie.NewPDRID(1),
			ie.NewPrecedence(defaultPrecedence),
			ie.NewPDI(
				ie.NewSourceInterface(ie.SrcInterfaceAccess),
				ie.NewUEIPAddress(0x02, ue.String(), "", 0, 0), // V4
				ie.NewNetworkInstance(networkInstance),
			),
			ie.NewOuterHeaderRemoval(0, 0),
			ie.NewFARID(ulFAR),
			ie.NewQERID(qerID),
		),
		ie.NewCreatePDR(
			ie.NewPDRID(2),
			ie.NewPrecedence(defaultPrecedence),
			ie.NewPDI(
				ie.NewSourceInterface(ie.SrcInterfaceCore),
				ie.NewUEIPAddress(0x06, ue.String(), "", 0, 0), // V4 + SD
				ie.NewNetworkInstance(networkInstance),
			),
			ie.NewFARID(dlFAR),
			ie.NewQERID(qerID),
		),
		forwardFAR(ulFAR, ie.DstInterfaceCore),
		forwardFAR(dlFAR, ie.DstInterfaceAccess),
		openQER(qerID, qci),
		ie.NewPDNType(ie.PDNTypeIPv4),
	), nil
}

// DedicatedBearerRequest builds the modification adding one dedicated bearer
// to an established session. Every packet filter of the TFT yields an uplink
// and a downlink PDR carrying it as SDF filter.
func (b *Builder) DedicatedBearerRequest(seq uint32, upSEID uint64, ue netip.Addr, rule BearerRule) (*message.SessionModificationRequest, error) {
	if rule.EBI < FirstDedicatedBearerID || rule.EBI > LastDedicatedBearerID {
		return nil, fmt.Errorf("EPS bearer id %d outside %d..%d", rule.EBI, FirstDedicatedBearerID, LastDedicatedBearerID)
	}
	if len(rule.TFT.Filters) == 0 {
		return nil, fmt.Errorf("bearer %d has an empty traffic flow template", rule.EBI)
	}
	if len(rule.TFT.Filters) > MaxFiltersPerBearer {
		return nil, fmt.Errorf("bearer %d has %d packet filters, at most %d allowed", rule.EBI, len(rule.TFT.Filters), MaxFiltersPerBearer)
	}
	if !ue.Is4() {
		return nil, fmt.Errorf("endpoint address must be IPv4, got %s", ue)
	}

	ulFAR, dlFAR := farIDs(rule.EBI)
	qerID := uint32(rule.EBI)

	ies := make([]*ie.IE, 0, 2*len(rule.TFT.Filters)+3)
	for i, f := range rule.TFT.Filters {
		ulPDR, dlPDR := pdrIDs(rule.EBI, i)
		sdf := ie.NewSDFFilter(FlowDescription(f), "", "", "", uint32(i+1))
		ies = append(ies,
			ie.NewCreatePDR(
				ie.NewPDRID(ulPDR),
				ie.NewPrecedence(dedicatedPrecedence),
				ie.NewPDI(
					ie.NewSourceInterface(ie.SrcInterfaceAccess),
					ie.NewUEIPAddress(0x02, ue.String(), "", 0, 0),
					ie.NewNetworkInstance(networkInstance),
					sdf,
				),
				ie.NewOuterHeaderRemoval(0, 0),
				ie.NewFARID(ulFAR),
				ie.NewQERID(qerID),
			),
			ie.NewCreatePDR(
				ie.NewPDRID(dlPDR),
				ie.NewPrecedence(dedicatedPrecedence),
				ie.NewPDI(
					ie.NewSourceInterface(ie.SrcInterfaceCore),
					ie.NewUEIPAddress(0x06, ue.String(), "", 0, 0),
					ie.NewNetworkInstance(networkInstance),
					sdf,
				),
				ie.NewFARID(dlFAR),
				ie.NewQERID(qerID),
			),
		)
	}
	ies = append(ies,
		forwardFAR(ulFAR, ie.DstInterfaceCore),
		forwardFAR(dlFAR, ie.DstInterfaceAccess),
		openQER(qerID, rule.QCI),
	)

	return message.NewSessionModificationRequest(0, 0, upSEID, seq, 0, ies...), nil
}

// SessionDeletionRequest builds the request that removes an endpoint's session.
func (b *Builder) SessionDeletionRequest(seq uint32, upSEID uint64) *message.SessionDeletionRequest {
	return message.NewSessionDeletionRequest(0, 0, upSEID, seq, 0)
}

// FlowDescription renders a packet filter as an IPFilterRule in the
// downlink orientation PFCP uses: "assigned" is the endpoint.
func FlowDescription(f types.PacketFilter) string {
	from := "any"
	if f.RemotePorts != nil {
		from += " " + f.RemotePorts.String()
	}
	to := "assigned"
	if f.LocalPorts != nil {
		to += " " + f.LocalPorts.String()
	}
	return fmt.Sprintf("permit out 17 from %s to %s", from, to)
}

// pdrIDs packs bearer id, filter index, and direction into a rule id so rules
// of different bearers in one session never collide.
func pdrIDs(ebi uint8, filter int) (ul, dl uint16) {
	base := uint16(ebi)<<4 | uint16(filter)<<1
	return base, base | 1
}

func farIDs(ebi uint8) (ul, dl uint32) {
	base := uint32(ebi) << 4
	return base, base | 1
}

func forwardFAR(id uint32, dst uint8) *ie.IE {
	return ie.NewCreateFAR(
		ie.NewFARID(id),
		ie.NewApplyAction(applyActionForward),
		ie.NewForwardingParameters(
			ie.NewDestinationInterface(dst),
			ie.NewNetworkInstance(networkInstance),
		),
	)
}

func openQER(id uint32, qci uint8) *ie.IE {
	return ie.NewCreateQER(
		ie.NewQERID(id),
		ie.NewGateStatus(gateOpen, gateOpen),
		ie.NewQFI(qci),
	)
}
