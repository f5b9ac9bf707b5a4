package types

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Direction selects the uplink or downlink half of a bearer.
type Direction uint8

const (
	Downlink Direction = iota
	Uplink
)

func (d Direction) String() string {
	switch d {
	case Downlink:
		return "downlink"
	case Uplink:
		return "uplink"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// FlowRole is the side of a UDP flow: the sending client or the receiving sink.
type FlowRole uint8

const (
	RoleClient FlowRole = iota
	RoleServer
)

func (r FlowRole) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Host is a fixed node of the core network (gateway or remote host).
type Host struct {
	NodeID  uint32
	Label   string
	Address netip.Addr
}

// Endpoint is a simulated user device. Its address never changes after assignment.
type Endpoint struct {
	IMSI     uint64
	NodeID   uint32
	Label    string
	Address  netip.Addr
	Gateway  netip.Addr // default route
	Sessions []Session
}

// PortRange is an inclusive range of UDP ports.
type PortRange struct {
	Start uint16
	End   uint16
}

// SinglePort returns a range matching exactly one port.
func SinglePort(p uint16) *PortRange {
	return &PortRange{Start: p, End: p}
}

// Contains reports whether p lies in the range.
func (r *PortRange) Contains(p uint16) bool {
	return r != nil && p >= r.Start && p <= r.End
}

func (r *PortRange) String() string {
	if r == nil {
		return "any"
	}
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// PacketFilter classifies packets by port. A nil range matches any port.
// Local ports are on the endpoint side, remote ports on the peer side.
type PacketFilter struct {
	LocalPorts  *PortRange
	RemotePorts *PortRange
}

// Matches reports whether a packet with the given endpoint-side and
// peer-side ports is classified by this filter.
func (f PacketFilter) Matches(localPort, remotePort uint16) bool {
	if f.LocalPorts != nil && !f.LocalPorts.Contains(localPort) {
		return false
	}
	if f.RemotePorts != nil && !f.RemotePorts.Contains(remotePort) {
		return false
	}
	return true
}

func (f PacketFilter) String() string {
	return fmt.Sprintf("local=%s remote=%s", f.LocalPorts, f.RemotePorts)
}

// TrafficFilterTemplate bundles the packet filters of one bearer.
type TrafficFilterTemplate struct {
	Filters []PacketFilter
}

// BearerTFT builds the template of a dedicated bearer: downlink traffic is
// matched on the endpoint's local port, uplink traffic on the remote port.
func BearerTFT(dlPort, ulPort uint16) TrafficFilterTemplate {
	return TrafficFilterTemplate{
		Filters: []PacketFilter{
			{LocalPorts: SinglePort(dlPort)},
			{RemotePorts: SinglePort(ulPort)},
		},
	}
}

// Matches reports whether any filter in the template classifies the packet.
func (t TrafficFilterTemplate) Matches(localPort, remotePort uint16) bool {
	for _, f := range t.Filters {
		if f.Matches(localPort, remotePort) {
			return true
		}
	}
	return false
}

func (t TrafficFilterTemplate) String() string {
	parts := make([]string, 0, len(t.Filters))
	for _, f := range t.Filters {
		parts = append(parts, "{"+f.String()+"}")
	}
	return strings.Join(parts, ",")
}

// QoSClass names a standardized bearer QoS class.
type QoSClass string

const (
	GBRConvVoice         QoSClass = "GBR_CONV_VOICE"
	GBRConvVideo         QoSClass = "GBR_CONV_VIDEO"
	GBRGaming            QoSClass = "GBR_GAMING"
	GBRNonConvVideo      QoSClass = "GBR_NON_CONV_VIDEO"
	NGBRIMS              QoSClass = "NGBR_IMS"
	NGBRVideoTCPOperator QoSClass = "NGBR_VIDEO_TCP_OPERATOR"
	NGBRVoiceVideoGaming QoSClass = "NGBR_VOICE_VIDEO_GAMING"
	NGBRVideoTCPPremium  QoSClass = "NGBR_VIDEO_TCP_PREMIUM"
	NGBRVideoTCPDefault  QoSClass = "NGBR_VIDEO_TCP_DEFAULT"
)

var qciByClass = map[QoSClass]uint8{
	GBRConvVoice:         1,
	GBRConvVideo:         2,
	GBRGaming:            3,
	GBRNonConvVideo:      4,
	NGBRIMS:              5,
	NGBRVideoTCPOperator: 6,
	NGBRVoiceVideoGaming: 7,
	NGBRVideoTCPPremium:  8,
	NGBRVideoTCPDefault:  9,
}

// QCI returns the QoS class identifier, or 0 for an unknown class.
func (q QoSClass) QCI() uint8 {
	return qciByClass[q]
}

// Valid reports whether q is a known class.
func (q QoSClass) Valid() bool {
	_, ok := qciByClass[q]
	return ok
}

// Session is one bearer's worth of traffic for an endpoint.
type Session struct {
	IMSI         uint64
	Bearer       int
	DownlinkPort uint16
	UplinkPort   uint16
	TFT          TrafficFilterTemplate
	QoS          QoSClass
	StartOffset  time.Duration
}

// BearerRequest asks the bearer manager to activate a dedicated bearer.
type BearerRequest struct {
	Endpoint *Endpoint
	Bearer   int
	QoS      QoSClass
	TFT      TrafficFilterTemplate
}

// Flow is one side of a UDP flow installed on a node. Clients send to Peer;
// servers bind Local (unspecified address = wildcard).
type Flow struct {
	IMSI      uint64
	Bearer    int
	Direction Direction
	Role      FlowRole
	NodeID    uint32
	Local     netip.AddrPort
	Peer      netip.AddrPort
}

// Key identifies the flow uniquely within a run.
func (f Flow) Key() string {
	return fmt.Sprintf("%d/%d/%s/%s", f.IMSI, f.Bearer, f.Direction, f.Role)
}

func (f Flow) String() string {
	if f.Role == RoleServer {
		return fmt.Sprintf("%s %s sink on node %d bound to %s", f.Direction, f.Role, f.NodeID, f.Local)
	}
	return fmt.Sprintf("%s %s on node %d to %s", f.Direction, f.Role, f.NodeID, f.Peer)
}

// FlowPacket is one UDP datagram read back from a flow trace.
type FlowPacket struct {
	Timestamp time.Time
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Seq       uint32
	Size      int
}

// TransactionResult holds the outcome of a PFCP transaction.
type TransactionResult struct {
	SeqNum       uint32
	Response     []byte
	ResponseTime time.Duration
	Error        error
}
