package session

import (
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressPool_InvalidCIDR(t *testing.T) {
	_, err := NewAddressPool("invalid")
	assert.Error(t, err)

	_, err = NewAddressPool("2001:db8::/64")
	assert.ErrorContains(t, err, "IPv4")
}

func TestAddressPool_Allocate_Sequential(t *testing.T) {
	pool, err := NewAddressPool("7.0.0.0/8")
	require.NoError(t, err)

	for _, want := range []string{"7.0.0.1", "7.0.0.2", "7.0.0.3"} {
		addr, err := pool.Allocate()
		require.NoError(t, err)
		assert.Equal(t, want, addr.String())
	}
}

func TestAddressPool_MasksHostBits(t *testing.T) {
	pool, err := NewAddressPool("1.0.0.7/8")
	require.NoError(t, err)

	addr, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0.1", addr.String())
}

func TestAddressPool_Exhaustion(t *testing.T) {
	// /30: .1 and .2 usable, .0 network and .3 broadcast
	pool, err := NewAddressPool("10.60.0.0/30")
	require.NoError(t, err)

	a1, err := pool.Allocate()
	require.NoError(t, err)
	a2, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "10.60.0.1", a1.String())
	assert.Equal(t, "10.60.0.2", a2.String())

	_, err = pool.Allocate()
	assert.ErrorContains(t, err, "exhausted")
}

func TestAddressPool_Release_AllowsReallocation(t *testing.T) {
	pool, err := NewAddressPool("10.60.0.0/30")
	require.NoError(t, err)

	_, err = pool.Allocate()
	require.NoError(t, err)
	a2, err := pool.Allocate()
	require.NoError(t, err)

	pool.Release(a2)
	a3, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, a2, a3)
}

func TestAddressPool_Available(t *testing.T) {
	pool, err := NewAddressPool("10.60.0.0/24")
	require.NoError(t, err)
	assert.Equal(t, 254, pool.Available())

	_, err = pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 253, pool.Available())
	assert.Equal(t, 1, pool.AllocatedCount())
}

func TestAddressPool_Release_Unknown(t *testing.T) {
	pool, err := NewAddressPool("10.60.0.0/24")
	require.NoError(t, err)

	pool.Release(netip.MustParseAddr("10.60.0.99"))
	assert.Equal(t, 0, pool.AllocatedCount())
}

func TestAddressPool_ConcurrentAccess(t *testing.T) {
	pool, err := NewAddressPool("10.60.0.0/16")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan netip.Addr, 1000)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := pool.Allocate()
			assert.NoError(t, err)
			results <- addr
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[netip.Addr]bool)
	for a := range results {
		assert.False(t, seen[a], "duplicate address allocated: %s", a)
		seen[a] = true
	}
	assert.Len(t, seen, 1000)
}
