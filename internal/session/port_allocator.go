package session

import (
	"fmt"
	"math"
	"sync"

	"handover-sim/pkg/types"
)

// PortAllocator hands out UDP ports from two independent counters, one per
// direction. Each counter holds the last issued port and is pre-incremented,
// so a base of 10000 yields 10001 first.
type PortAllocator struct {
	last  [2]uint16
	count [2]int
	mu    sync.Mutex
}

// NewPortAllocator creates an allocator with the given downlink and uplink bases.
func NewPortAllocator(dlBase, ulBase uint16) *PortAllocator {
	a := &PortAllocator{}
	a.last[types.Downlink] = dlBase
	a.last[types.Uplink] = ulBase
	return a
}

// NextPort returns the next port of the given direction.
func (a *PortAllocator) NextPort(dir types.Direction) (uint16, error) {
	if dir != types.Downlink && dir != types.Uplink {
		return 0, fmt.Errorf("unknown direction %d", dir)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last[dir] == math.MaxUint16 {
		return 0, &ExhaustionError{Direction: dir, Last: a.last[dir]}
	}
	a.last[dir]++
	a.count[dir]++
	return a.last[dir], nil
}

// Allocated returns how many ports of the given direction were handed out.
func (a *PortAllocator) Allocated(dir types.Direction) int {
	if dir != types.Downlink && dir != types.Uplink {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count[dir]
}
