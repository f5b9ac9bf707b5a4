package session

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Jitter draws session start offsets uniformly from [0, max) using one
// seeded PCG source, so a run is reproducible from its seed.
type Jitter struct {
	max time.Duration
	src *rand.PCG
	rng *rand.Rand
	mu  sync.Mutex
}

// NewJitter creates a scheduler spreading starts over max.
func NewJitter(max time.Duration, seed uint64) *Jitter {
	src := rand.NewPCG(seed, seed)
	return &Jitter{
		max: max,
		src: src,
		rng: rand.New(src),
	}
}

// SampleStartOffset returns a new start offset.
func (j *Jitter) SampleStartOffset() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.max <= 0 {
		return 0
	}
	return time.Duration(j.rng.Float64() * float64(j.max))
}

// Reseed restarts the offset sequence from seed.
func (j *Jitter) Reseed(seed uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.src.Seed(seed, seed)
}

// Max returns the upper bound of the offsets.
func (j *Jitter) Max() time.Duration {
	return j.max
}
