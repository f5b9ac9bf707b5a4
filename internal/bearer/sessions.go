package bearer

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
)

// SEIDStrategy selects how control-plane SEIDs are chosen.
type SEIDStrategy string

const (
	SequentialSEIDs SEIDStrategy = "sequential"
	RandomSEIDs     SEIDStrategy = "random"
)

const randomSEIDAttempts = 10000

// PFCPSession is the PFCP session of one endpoint. UPSEID is zero until the
// user plane has answered the establishment.
type PFCPSession struct {
	IMSI   uint64
	CPSEID uint64
	UPSEID uint64
}

// SessionTable maps endpoints to their PFCP session and owns the local SEID
// space. An endpoint holds at most one session; SEID 0 is never issued.
type SessionTable struct {
	strategy SEIDStrategy
	next     uint64
	byIMSI   map[uint64]*PFCPSession
	inUse    map[uint64]uint64 // CP SEID -> IMSI
	mu       sync.Mutex
}

// NewSessionTable creates a table issuing SEIDs from start (1 when zero).
func NewSessionTable(strategy SEIDStrategy, start uint64) (*SessionTable, error) {
	switch strategy {
	case "":
		strategy = SequentialSEIDs
	case SequentialSEIDs, RandomSEIDs:
	default:
		return nil, fmt.Errorf("unknown SEID strategy %q", strategy)
	}
	if start == 0 {
		start = 1
	}
	return &SessionTable{
		strategy: strategy,
		next:     start,
		byIMSI:   make(map[uint64]*PFCPSession),
		inUse:    make(map[uint64]uint64),
	}, nil
}

// Reserve issues a CP SEID for the endpoint's establishment.
func (t *SessionTable) Reserve(imsi uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.byIMSI[imsi]; ok {
		return 0, fmt.Errorf("IMSI %d already holds PFCP session with CP SEID %d", imsi, s.CPSEID)
	}
	seid, err := t.issueLocked()
	if err != nil {
		return 0, err
	}
	t.inUse[seid] = imsi
	t.byIMSI[imsi] = &PFCPSession{IMSI: imsi, CPSEID: seid}
	return seid, nil
}

func (t *SessionTable) issueLocked() (uint64, error) {
	if t.strategy == RandomSEIDs {
		for i := 0; i < randomSEIDAttempts; i++ {
			seid := rand.Uint64()
			if _, taken := t.inUse[seid]; seid != 0 && !taken {
				return seid, nil
			}
		}
		return 0, fmt.Errorf("no free random SEID after %d attempts", randomSEIDAttempts)
	}

	// at most len(inUse) candidates can collide
	for i := 0; i <= len(t.inUse); i++ {
		if t.next == 0 {
			t.next = 1
		}
		seid := t.next
		t.next++
		if _, taken := t.inUse[seid]; !taken {
			return seid, nil
		}
	}
	return 0, fmt.Errorf("SEID space exhausted")
}

// Bind records the user plane's SEID once the establishment was accepted.
func (t *SessionTable) Bind(imsi, upSEID uint64) (PFCPSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byIMSI[imsi]
	switch {
	case !ok:
		return PFCPSession{}, fmt.Errorf("no SEID reserved for IMSI %d", imsi)
	case s.UPSEID != 0:
		return PFCPSession{}, fmt.Errorf("PFCP session of IMSI %d already bound to UP SEID %d", imsi, s.UPSEID)
	case upSEID == 0:
		return PFCPSession{}, fmt.Errorf("user plane returned SEID 0 for IMSI %d", imsi)
	}
	s.UPSEID = upSEID
	return *s, nil
}

// Lookup returns the established session of an endpoint.
func (t *SessionTable) Lookup(imsi uint64) (PFCPSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byIMSI[imsi]
	if !ok || s.UPSEID == 0 {
		return PFCPSession{}, false
	}
	return *s, true
}

// Drop forgets the endpoint's session, established or not, and frees its SEID.
func (t *SessionTable) Drop(imsi uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byIMSI[imsi]; ok {
		delete(t.inUse, s.CPSEID)
		delete(t.byIMSI, imsi)
	}
}

// Established returns every bound session in IMSI order.
func (t *SessionTable) Established() []PFCPSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PFCPSession, 0, len(t.byIMSI))
	for _, s := range t.byIMSI {
		if s.UPSEID != 0 {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMSI < out[j].IMSI })
	return out
}

// Len returns the number of SEIDs held, pending establishments included.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inUse)
}
