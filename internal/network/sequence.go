package network

import "sync"

// SequenceCounter issues PFCP sequence numbers.
type SequenceCounter struct {
	current uint32
	mu      sync.Mutex
}

// Next returns the next sequence number (24-bit, wraps to 1 after 0xFFFFFF).
func (s *SequenceCounter) Next() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current++
	if s.current > 0xFFFFFF {
		s.current = 1
	}
	return s.current
}
