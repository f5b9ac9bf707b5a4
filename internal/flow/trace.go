package flow

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"handover-sim/pkg/types"
)

const (
	// seq (4 bytes) + send timestamp in ns (8 bytes)
	seqTsHeaderLen = 12
	firstEphemeral = 49153
	lastEphemeral  = 65535
	snapLen        = 65536
)

// TraceEpoch is the wall-clock time simulated time zero maps to in traces.
var TraceEpoch = time.Unix(0, 0).UTC()

// TraceConfig is the traffic model of every client flow.
type TraceConfig struct {
	Interval   time.Duration
	MaxPackets int
	PacketSize int // UDP payload bytes, at least the 12-byte header
}

type tracedClient struct {
	flow    types.Flow
	start   time.Duration
	srcPort uint16
}

type tracePacket struct {
	at     time.Duration
	client int
	seq    uint32
}

// TraceWriter records the datagrams every started client flow sends and
// writes them as an Ethernet pcap once the run ends.
type TraceWriter struct {
	cfg      TraceConfig
	clients  []tracedClient
	nextPort map[uint32]int
	err      error // first node that ran out of source ports
	mu       sync.Mutex
}

// NewTraceWriter creates a writer for the given traffic model.
func NewTraceWriter(cfg TraceConfig) (*TraceWriter, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("trace interval must be > 0, got %s", cfg.Interval)
	}
	if cfg.MaxPackets < 0 {
		return nil, fmt.Errorf("max packets must be >= 0, got %d", cfg.MaxPackets)
	}
	if cfg.PacketSize < seqTsHeaderLen {
		cfg.PacketSize = seqTsHeaderLen
	}
	return &TraceWriter{cfg: cfg, nextPort: make(map[uint32]int)}, nil
}

// FlowsStarted implements StartListener. Server flows only receive. A client
// flow whose node has no ephemeral port left is not traced and WriteTo fails.
func (w *TraceWriter) FlowsStarted(flows []types.Flow, at time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range flows {
		if f.Role != types.RoleClient {
			continue
		}
		port := w.nextPort[f.NodeID]
		if port < firstEphemeral {
			port = firstEphemeral
		}
		if port > lastEphemeral {
			if w.err == nil {
				w.err = fmt.Errorf("node %d ran out of ephemeral source ports (%d client flows max) at %s",
					f.NodeID, lastEphemeral-firstEphemeral+1, f.Key())
			}
			continue
		}
		w.nextPort[f.NodeID] = port + 1
		w.clients = append(w.clients, tracedClient{flow: f, start: at, srcPort: uint16(port)})
	}
}

// Clients returns the number of client flows that started.
func (w *TraceWriter) Clients() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *TraceWriter) schedule(end time.Duration) []tracePacket {
	var pkts []tracePacket
	for i, c := range w.clients {
		for k := 0; k < w.cfg.MaxPackets; k++ {
			at := c.start + time.Duration(k)*w.cfg.Interval
			if at >= end {
				break
			}
			pkts = append(pkts, tracePacket{at: at, client: i, seq: uint32(k)})
		}
	}
	sort.SliceStable(pkts, func(i, j int) bool { return pkts[i].at < pkts[j].at })
	return pkts
}

// WriteTo writes every datagram sent before end to out and returns the
// packet count.
func (w *TraceWriter) WriteTo(out io.Writer, end time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}

	pw := pcapgo.NewWriter(out)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return 0, fmt.Errorf("failed to write pcap header: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payload := make([]byte, w.cfg.PacketSize)

	pkts := w.schedule(end)
	for _, p := range pkts {
		c := w.clients[p.client]
		binary.BigEndian.PutUint32(payload[0:4], p.seq)
		binary.BigEndian.PutUint64(payload[4:12], uint64(p.at))

		if err := w.serialize(buf, opts, c, payload); err != nil {
			return 0, fmt.Errorf("failed to encode datagram of %s: %w", c.flow.Key(), err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     TraceEpoch.Add(p.at),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return 0, fmt.Errorf("failed to write packet: %w", err)
		}
	}
	return len(pkts), nil
}

func (w *TraceWriter) serialize(buf gopacket.SerializeBuffer, opts gopacket.SerializeOptions, c tracedClient, payload []byte) error {
	src := c.flow.Local.Addr()
	dst := c.flow.Peer.Addr()
	if !src.Is4() || !dst.Is4() {
		return fmt.Errorf("only IPv4 flows can be traced")
	}

	eth := &layers.Ethernet{
		SrcMAC:       nodeMAC(c.flow.NodeID),
		DstMAC:       addrMAC(dst),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(c.srcPort),
		DstPort: layers.UDPPort(c.flow.Peer.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}
	return gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload))
}

// WriteFile writes the trace to path.
func (w *TraceWriter) WriteFile(path string, end time.Duration) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create flow trace %s: %w", path, err)
	}
	n, err := w.WriteTo(f, end)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"file":    path,
		"packets": n,
		"clients": w.Clients(),
	}).Info("Flow trace written")
	return n, nil
}

// locally administered MACs keyed by node id
func nodeMAC(node uint32) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0x00, byte(node >> 24), byte(node >> 16), byte(node >> 8), byte(node)}
}

func addrMAC(a netip.Addr) net.HardwareAddr {
	b := a.As4()
	return net.HardwareAddr{0x02, 0x01, b[0], b[1], b[2], b[3]}
}
