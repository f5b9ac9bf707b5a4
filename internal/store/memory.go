// Package store persists provisioned sessions for inspection after a run.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"handover-sim/pkg/types"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

type sessionKey struct {
	imsi   uint64
	bearer int
}

// Memory keeps sessions in process memory.
type Memory struct {
	sessions map[sessionKey]types.Session
	mu       sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[sessionKey]types.Session)}
}

// Save stores s, replacing any session with the same IMSI and bearer.
func (m *Memory) Save(ctx context.Context, s types.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey{s.IMSI, s.Bearer}] = s
	return nil
}

// Get returns the session of bearer on imsi.
func (m *Memory) Get(ctx context.Context, imsi uint64, bearer int) (types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionKey{imsi, bearer}]
	if !ok {
		return types.Session{}, ErrSessionNotFound
	}
	return s, nil
}

// List returns every session ordered by IMSI then bearer.
func (m *Memory) List(ctx context.Context) ([]types.Session, error) {
	m.mu.RLock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortSessions(out)
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func sortSessions(s []types.Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].IMSI != s[j].IMSI {
			return s[i].IMSI < s[j].IMSI
		}
		return s[i].Bearer < s[j].Bearer
	})
}
