package session

import (
	"fmt"
	"net/netip"
	"sync"
)

// AddressPool hands out IPv4 addresses from a prefix, starting after the
// network address. Released addresses become available again.
type AddressPool struct {
	prefix    netip.Prefix
	next      netip.Addr
	size      int
	allocated map[netip.Addr]bool
	mu        sync.Mutex
}

// NewAddressPool creates a pool from a CIDR string (e.g. "7.0.0.0/8").
func NewAddressPool(cidr string) (*AddressPool, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid CIDR %q: only IPv4 pools are supported", cidr)
	}
	prefix = prefix.Masked()
	hostBits := 32 - prefix.Bits()
	if hostBits < 2 {
		return nil, fmt.Errorf("invalid CIDR %q: prefix too long for a pool", cidr)
	}

	return &AddressPool{
		prefix:    prefix,
		next:      prefix.Addr().Next(),
		size:      (1 << hostBits) - 2,
		allocated: make(map[netip.Addr]bool),
	}, nil
}

// Prefix returns the pool's network.
func (p *AddressPool) Prefix() netip.Prefix {
	return p.prefix
}

// Allocate returns the next free address, skipping the network and broadcast addresses.
func (p *AddressPool) Allocate() (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.allocated) >= p.size {
		return netip.Addr{}, fmt.Errorf("address pool %s exhausted (all %d addresses allocated)", p.prefix, len(p.allocated))
	}

	for {
		candidate := p.next
		p.advance()
		if !p.allocated[candidate] {
			p.allocated[candidate] = true
			return candidate, nil
		}
	}
}

// advance moves next forward, wrapping to the first host address.
func (p *AddressPool) advance() {
	p.next = p.next.Next()
	if !p.prefix.Contains(p.next) || p.isBroadcast(p.next) {
		p.next = p.prefix.Addr().Next()
	}
}

func (p *AddressPool) isBroadcast(a netip.Addr) bool {
	return !p.prefix.Contains(a.Next())
}

// Release frees an address for reuse.
func (p *AddressPool) Release(a netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, a)
}

// AllocatedCount returns the number of currently allocated addresses.
func (p *AddressPool) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// Available returns the number of free addresses.
func (p *AddressPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - len(p.allocated)
}
