// Package bearer holds the bearer managers a provisioner activates dedicated
// bearers with: an in-process table and a PFCP control-plane client.
package bearer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/pfcp"
	"handover-sim/pkg/types"
)

var (
	ErrTooManyBearers   = errors.New("no free EPS bearer id")
	ErrEmptyTFT         = errors.New("traffic flow template has no packet filters")
	ErrDuplicateFilter  = errors.New("packet filter already bound to another bearer")
	ErrAdmissionDenied  = errors.New("admission control rejected bearer")
	ErrUnknownQoSClass  = errors.New("unknown QoS class")
	ErrEndpointRequired = errors.New("bearer request without endpoint")
)

// MaxDedicatedBearers is the number of EPS bearer ids left after the default bearer.
const MaxDedicatedBearers = int(pfcp.LastDedicatedBearerID-pfcp.FirstDedicatedBearerID) + 1

// Record is one active dedicated bearer.
type Record struct {
	EBI    uint8
	Bearer int
	QoS    types.QoSClass
	TFT    types.TrafficFilterTemplate
}

// Table tracks dedicated bearers per endpoint and hands out EPS bearer ids.
// It is a complete bearer manager on its own and the admission stage of the
// PFCP activator.
type Table struct {
	maxPerEndpoint int
	rejectEvery    int
	requests       int
	bearers        map[uint64][]Record
	mu             sync.Mutex
}

// NewTable creates a table admitting maxPerEndpoint bearers per endpoint
// (capped at MaxDedicatedBearers). A positive rejectEvery makes every n-th
// request fail admission, which exercises partial-failure handling.
func NewTable(maxPerEndpoint, rejectEvery int) *Table {
	if maxPerEndpoint <= 0 || maxPerEndpoint > MaxDedicatedBearers {
		maxPerEndpoint = MaxDedicatedBearers
	}
	return &Table{
		maxPerEndpoint: maxPerEndpoint,
		rejectEvery:    rejectEvery,
		bearers:        make(map[uint64][]Record),
	}
}

// ActivateBearer admits the bearer and records it.
func (t *Table) ActivateBearer(ctx context.Context, req types.BearerRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := t.Reserve(req)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"imsi":   req.Endpoint.IMSI,
		"bearer": req.Bearer,
		"ebi":    rec.EBI,
		"tft":    rec.TFT.String(),
	}).Debug("Dedicated bearer activated")
	return nil
}

// Reserve validates a request and assigns it the lowest free EPS bearer id.
func (t *Table) Reserve(req types.BearerRequest) (Record, error) {
	if req.Endpoint == nil {
		return Record{}, ErrEndpointRequired
	}
	if !req.QoS.Valid() {
		return Record{}, fmt.Errorf("%w %q", ErrUnknownQoSClass, req.QoS)
	}
	if len(req.TFT.Filters) == 0 {
		return Record{}, ErrEmptyTFT
	}
	if len(req.TFT.Filters) > pfcp.MaxFiltersPerBearer {
		return Record{}, fmt.Errorf("traffic flow template has %d packet filters, at most %d allowed",
			len(req.TFT.Filters), pfcp.MaxFiltersPerBearer)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests++
	if t.rejectEvery > 0 && t.requests%t.rejectEvery == 0 {
		return Record{}, fmt.Errorf("%w (request %d)", ErrAdmissionDenied, t.requests)
	}

	active := t.bearers[req.Endpoint.IMSI]
	if len(active) >= t.maxPerEndpoint {
		return Record{}, fmt.Errorf("%w: IMSI %d already has %d dedicated bearers", ErrTooManyBearers, req.Endpoint.IMSI, len(active))
	}
	for _, f := range req.TFT.Filters {
		for _, r := range active {
			for _, g := range r.TFT.Filters {
				if sameFilter(f, g) {
					return Record{}, fmt.Errorf("%w: {%s} on EBI %d", ErrDuplicateFilter, f, r.EBI)
				}
			}
		}
	}

	ebi, ok := freeEBI(active)
	if !ok {
		return Record{}, ErrTooManyBearers
	}
	rec := Record{EBI: ebi, Bearer: req.Bearer, QoS: req.QoS, TFT: req.TFT}
	t.bearers[req.Endpoint.IMSI] = append(active, rec)
	return rec, nil
}

// Release frees the bearer with ebi on imsi.
func (t *Table) Release(imsi uint64, ebi uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := t.bearers[imsi]
	for i, r := range active {
		if r.EBI == ebi {
			t.bearers[imsi] = append(active[:i:i], active[i+1:]...)
			return
		}
	}
}

// Bearers returns a copy of the active bearers of imsi.
func (t *Table) Bearers(imsi uint64) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.bearers[imsi]))
	copy(out, t.bearers[imsi])
	return out
}

// Count returns the number of active dedicated bearers across endpoints.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.bearers {
		n += len(b)
	}
	return n
}

func freeEBI(active []Record) (uint8, bool) {
	used := make(map[uint8]bool, len(active))
	for _, r := range active {
		used[r.EBI] = true
	}
	for ebi := pfcp.FirstDedicatedBearerID; ebi <= pfcp.LastDedicatedBearerID; ebi++ {
		if !used[ebi] {
			return ebi, true
		}
	}
	return 0, false
}

func sameFilter(a, b types.PacketFilter) bool {
	return sameRange(a.LocalPorts, b.LocalPorts) && sameRange(a.RemotePorts, b.RemotePorts)
}

func sameRange(a, b *types.PortRange) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
