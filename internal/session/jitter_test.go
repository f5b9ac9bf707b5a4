package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sample(j *Jitter, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = j.SampleStartOffset()
	}
	return out
}

func TestJitter_WithinBounds(t *testing.T) {
	j := NewJitter(time.Second, 1)
	for _, d := range sample(j, 1000) {
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, time.Second)
	}
}

func TestJitter_SameSeedSameSequence(t *testing.T) {
	a := sample(NewJitter(time.Second, 42), 50)
	b := sample(NewJitter(time.Second, 42), 50)
	assert.Equal(t, a, b)

	c := sample(NewJitter(time.Second, 43), 50)
	assert.NotEqual(t, a, c)
}

func TestJitter_ReseedRestartsSequence(t *testing.T) {
	j := NewJitter(time.Second, 7)
	first := sample(j, 10)

	j.Reseed(7)
	assert.Equal(t, first, sample(j, 10))
}

func TestJitter_ZeroMax(t *testing.T) {
	j := NewJitter(0, 1)
	assert.Equal(t, time.Duration(0), j.SampleStartOffset())
}
