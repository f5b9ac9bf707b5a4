package pcap

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sort"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"handover-sim/pkg/types"
)

// Parser reads flow traces and classifies datagrams by direction: anything
// addressed into the endpoint prefix is downlink.
type Parser struct {
	uePrefix netip.Prefix
}

// NewParser creates a parser for traces of endpoints in uePool.
func NewParser(uePool string) (*Parser, error) {
	prefix, err := netip.ParsePrefix(uePool)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint pool %q: %w", uePool, err)
	}
	return &Parser{uePrefix: prefix.Masked()}, nil
}

// FlowCount is the traffic of one source/destination pair.
type FlowCount struct {
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Direction types.Direction
	Packets   int
	Bytes     int
}

// Summary aggregates a flow trace.
type Summary struct {
	Packets     int
	Bytes       int
	ByDirection map[types.Direction]int
	Flows       []FlowCount // sorted by source then destination
	First       time.Time
	Last        time.Time
}

// Parse reads a pcap file and returns every UDP datagram in order.
func (p *Parser) Parse(filename string) ([]types.FlowPacket, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	defer f.Close()
	return p.ParseReader(f)
}

// ParseReader reads a pcap stream and returns every UDP datagram in order.
func (p *Parser) ParseReader(r io.Reader) ([]types.FlowPacket, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	linkType := reader.LinkType()
	log.WithField("link_type", linkType.String()).Debug("PCAP link type detected")

	packetSource := gopacket.NewPacketSource(reader, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	var out []types.FlowPacket
	totalPackets := 0

	for packet := range packetSource.Packets() {
		totalPackets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}

		ipv4Layer := packet.Layer(layers.LayerTypeIPv4)
		if ipv4Layer == nil {
			continue
		}
		ipv4, _ := ipv4Layer.(*layers.IPv4)
		src, ok1 := netip.AddrFromSlice(ipv4.SrcIP.To4())
		dst, ok2 := netip.AddrFromSlice(ipv4.DstIP.To4())
		if !ok1 || !ok2 {
			log.WithField("packet", totalPackets).Warn("Unreadable IPv4 addresses, skipping")
			continue
		}

		fp := types.FlowPacket{
			Timestamp: packet.Metadata().Timestamp,
			Src:       netip.AddrPortFrom(src, uint16(udp.SrcPort)),
			Dst:       netip.AddrPortFrom(dst, uint16(udp.DstPort)),
			Size:      len(udp.Payload),
		}
		if len(udp.Payload) >= 4 {
			fp.Seq = binary.BigEndian.Uint32(udp.Payload[0:4])
		}
		out = append(out, fp)
	}

	log.WithFields(log.Fields{
		"total_packets": totalPackets,
		"udp_packets":   len(out),
	}).Info("PCAP parsing complete")

	return out, nil
}

// Direction classifies a datagram.
func (p *Parser) Direction(fp types.FlowPacket) types.Direction {
	if p.uePrefix.Contains(fp.Dst.Addr()) {
		return types.Downlink
	}
	return types.Uplink
}

// Summarize parses a trace file and aggregates it.
func (p *Parser) Summarize(filename string) (*Summary, error) {
	pkts, err := p.Parse(filename)
	if err != nil {
		return nil, err
	}
	return p.Aggregate(pkts), nil
}

// Aggregate counts packets per direction and per flow.
func (p *Parser) Aggregate(pkts []types.FlowPacket) *Summary {
	s := &Summary{ByDirection: make(map[types.Direction]int)}
	type pair struct{ src, dst netip.AddrPort }
	byPair := make(map[pair]*FlowCount)

	for _, fp := range pkts {
		s.Packets++
		s.Bytes += fp.Size
		dir := p.Direction(fp)
		s.ByDirection[dir]++

		if s.First.IsZero() || fp.Timestamp.Before(s.First) {
			s.First = fp.Timestamp
		}
		if fp.Timestamp.After(s.Last) {
			s.Last = fp.Timestamp
		}

		k := pair{fp.Src, fp.Dst}
		fc, ok := byPair[k]
		if !ok {
			fc = &FlowCount{Src: fp.Src, Dst: fp.Dst, Direction: dir}
			byPair[k] = fc
		}
		fc.Packets++
		fc.Bytes += fp.Size
	}

	for _, fc := range byPair {
		s.Flows = append(s.Flows, *fc)
	}
	sort.Slice(s.Flows, func(i, j int) bool {
		if c := s.Flows[i].Src.Compare(s.Flows[j].Src); c != 0 {
			return c < 0
		}
		return s.Flows[i].Dst.Compare(s.Flows[j].Dst) < 0
	})
	return s
}

// Format renders a summary for the console.
func (s *Summary) Format() string {
	out := fmt.Sprintf("Flow trace: %d datagrams, %d payload bytes, %d flows\n", s.Packets, s.Bytes, len(s.Flows))
	out += fmt.Sprintf("  downlink: %d  |  uplink: %d\n", s.ByDirection[types.Downlink], s.ByDirection[types.Uplink])
	if s.Packets > 0 {
		out += fmt.Sprintf("  span: %s\n", s.Last.Sub(s.First))
	}
	return out
}
