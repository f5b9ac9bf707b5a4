package topology

import (
	"fmt"
	"net/netip"
	"sort"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/rrc"
	"handover-sim/internal/session"
	"handover-sim/pkg/types"
)

// Node ids of the fixed core nodes. Stations follow, then endpoints.
const (
	GatewayNode    uint32 = 0
	RemoteHostNode uint32 = 1
	firstStation   uint32 = 2
)

// Position is a point in scenario coordinates (meters).
type Position struct {
	X float64 `mapstructure:"x" yaml:"x"`
	Y float64 `mapstructure:"y" yaml:"y"`
	Z float64 `mapstructure:"z" yaml:"z"`
}

// StationSpec describes one station to place. An empty label defaults to S<cell>.
type StationSpec struct {
	Label string  `mapstructure:"label" yaml:"label"`
	X     float64 `mapstructure:"x" yaml:"x"`
	Y     float64 `mapstructure:"y" yaml:"y"`
	Z     float64 `mapstructure:"z" yaml:"z"`
}

// DefaultStations are the twelve sites of the reference deployment.
var DefaultStations = []StationSpec{
	{Label: "C1", X: 262.66, Y: -852.78},
	{Label: "C2", X: 529.37, Y: -515.46},
	{Label: "C3", X: 666.65, Y: -1123.42},
	{Label: "C4", X: 1066.73, Y: -770.41},
	{Label: "C5", X: 1235.38, Y: -1598.02},
	{Label: "C6", X: 1509.94, Y: -1472.50},
	{Label: "C7", X: 1906.10, Y: -2045.16},
	{Label: "C8", X: 2867.06, Y: -1856.89},
	{Label: "M1", X: 297.96, Y: -919.46},
	{Label: "M2", X: 1266.76, Y: -1060.66},
	{Label: "M3", X: 1509.94, Y: -1472.50},
	{Label: "M4", X: 2282.64, Y: -2237.35},
}

// Station is a fixed base station. Cell ids start at 1.
type Station struct {
	Cell     uint16
	NodeID   uint32
	Label    string
	Position Position
}

// Style is the display metadata of a node.
type Style struct {
	Label   string
	Size    float64
	R, G, B uint8
}

// Options configures Build.
type Options struct {
	EndpointCount int
	Stations      []StationSpec
	UEPool        string
	InternetPool  string
	// Positions holds initial endpoint positions by zero-based endpoint index.
	Positions map[int]Position
}

// Topology is the static layout of a scenario: the gateway, the remote host,
// the stations and the endpoints, each with a stable node id.
type Topology struct {
	Gateway    types.Host
	RemoteHost types.Host
	UEGateway  netip.Addr
	Stations   []Station
	Endpoints  []*types.Endpoint

	positions map[uint32]Position
	styles    map[uint32]Style
	byIMSI    map[uint64]*types.Endpoint
	byCell    map[uint16]*Station
}

// Build lays out the scenario and assigns addresses. The internet pool
// yields the gateway then the remote host; the endpoint pool reserves its
// first address as every endpoint's default route.
func Build(opts Options) (*Topology, error) {
	if opts.EndpointCount < 0 {
		return nil, fmt.Errorf("endpoint count must be >= 0, got %d", opts.EndpointCount)
	}
	if len(opts.Stations) == 0 {
		return nil, fmt.Errorf("at least one station is required")
	}
	if len(opts.Stations) > 0xFFFF {
		return nil, fmt.Errorf("too many stations: %d", len(opts.Stations))
	}

	internet, err := session.NewAddressPool(opts.InternetPool)
	if err != nil {
		return nil, fmt.Errorf("internet pool: %w", err)
	}
	uePool, err := session.NewAddressPool(opts.UEPool)
	if err != nil {
		return nil, fmt.Errorf("endpoint pool: %w", err)
	}
	if uePool.Available() < opts.EndpointCount+1 {
		return nil, fmt.Errorf("endpoint pool %s too small for %d endpoints", uePool.Prefix(), opts.EndpointCount)
	}

	t := &Topology{
		positions: make(map[uint32]Position),
		styles:    make(map[uint32]Style),
		byIMSI:    make(map[uint64]*types.Endpoint, opts.EndpointCount),
		byCell:    make(map[uint16]*Station, len(opts.Stations)),
	}

	gwAddr, err := internet.Allocate()
	if err != nil {
		return nil, err
	}
	rhAddr, err := internet.Allocate()
	if err != nil {
		return nil, err
	}
	t.Gateway = types.Host{NodeID: GatewayNode, Label: "PGW", Address: gwAddr}
	t.RemoteHost = types.Host{NodeID: RemoteHostNode, Label: "remoteHost", Address: rhAddr}
	t.styles[GatewayNode] = Style{Label: "PGW", Size: 5, B: 255}
	t.styles[RemoteHostNode] = Style{Label: "remoteHost", Size: 3, B: 255}

	if t.UEGateway, err = uePool.Allocate(); err != nil {
		return nil, err
	}

	t.Stations = make([]Station, len(opts.Stations))
	for i, spec := range opts.Stations {
		cell := uint16(i + 1)
		label := spec.Label
		if label == "" {
			label = fmt.Sprintf("S%d", cell)
		}
		st := Station{
			Cell:     cell,
			NodeID:   firstStation + uint32(i),
			Label:    label,
			Position: Position{X: spec.X, Y: spec.Y, Z: spec.Z},
		}
		t.Stations[i] = st
		t.byCell[cell] = &t.Stations[i]
		t.positions[st.NodeID] = st.Position
		t.styles[st.NodeID] = Style{Label: label, Size: 5, R: 255}
	}

	firstEndpoint := firstStation + uint32(len(opts.Stations))
	for i := 0; i < opts.EndpointCount; i++ {
		addr, err := uePool.Allocate()
		if err != nil {
			return nil, err
		}
		ep := &types.Endpoint{
			IMSI:    uint64(i + 1),
			NodeID:  firstEndpoint + uint32(i),
			Label:   fmt.Sprintf("U%d", i+1),
			Address: addr,
			Gateway: t.UEGateway,
		}
		t.Endpoints = append(t.Endpoints, ep)
		t.byIMSI[ep.IMSI] = ep
		t.styles[ep.NodeID] = Style{Label: ep.Label, Size: 3, G: 255}
		if pos, ok := opts.Positions[i]; ok {
			t.positions[ep.NodeID] = pos
		}
	}

	log.WithFields(log.Fields{
		"stations":    len(t.Stations),
		"endpoints":   len(t.Endpoints),
		"remote_host": t.RemoteHost.Address,
		"ue_gateway":  t.UEGateway,
	}).Info("Topology built")

	return t, nil
}

// EndpointByIMSI looks up an endpoint.
func (t *Topology) EndpointByIMSI(imsi uint64) (*types.Endpoint, bool) {
	ep, ok := t.byIMSI[imsi]
	return ep, ok
}

// StationByCell looks up a station.
func (t *Topology) StationByCell(cell uint16) (*Station, bool) {
	st, ok := t.byCell[cell]
	return st, ok
}

// NodeFor returns the node raising an event: the endpoint for device-side
// events, the station for station-side events.
func (t *Topology) NodeFor(role rrc.Role, imsi uint64, cell uint16) (uint32, bool) {
	if role == rrc.RoleENB {
		st, ok := t.byCell[cell]
		if !ok {
			return 0, false
		}
		return st.NodeID, true
	}
	ep, ok := t.byIMSI[imsi]
	if !ok {
		return 0, false
	}
	return ep.NodeID, true
}

// IMSIs returns every endpoint identifier in ascending order.
func (t *Topology) IMSIs() []uint64 {
	out := make([]uint64, 0, len(t.Endpoints))
	for _, ep := range t.Endpoints {
		out = append(out, ep.IMSI)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeCount is the total number of nodes.
func (t *Topology) NodeCount() int {
	return 2 + len(t.Stations) + len(t.Endpoints)
}

// Style returns the display metadata of a node.
func (t *Topology) Style(node uint32) (Style, bool) {
	s, ok := t.styles[node]
	return s, ok
}

// Position returns the known position of a node. Core nodes and endpoints
// without a trace entry have none.
func (t *Topology) Position(node uint32) (Position, bool) {
	p, ok := t.positions[node]
	return p, ok
}

// Host returns the core host with the given node id.
func (t *Topology) Host(node uint32) (types.Host, bool) {
	switch node {
	case GatewayNode:
		return t.Gateway, true
	case RemoteHostNode:
		return t.RemoteHost, true
	}
	return types.Host{}, false
}
