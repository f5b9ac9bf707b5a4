package rrc

import (
	"fmt"
	"path"
	"sync"
)

// Callback receives the publishing context followed by the event's
// positional arguments: imsi, cell, rnti and, for handover starts, target cell.
type Callback func(context string, args ...uint64)

type subscription struct {
	pattern string
	cb      Callback
}

// Bus is a publish/subscribe channel keyed by hierarchical trace paths.
// Subscribers connect with a path.Match pattern; publishing delivers
// synchronously, in subscription order, to every matching subscriber.
type Bus struct {
	subs []subscription
	mu   sync.RWMutex
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Connect subscribes cb to every context matching pattern.
func (b *Bus) Connect(pattern string, cb Callback) error {
	if cb == nil {
		return fmt.Errorf("nil callback for %s", pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid trace pattern %q: %w", pattern, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: pattern, cb: cb})
	return nil
}

// Publish delivers an event and returns how many subscribers received it.
func (b *Bus) Publish(context string, args ...uint64) int {
	b.mu.RLock()
	matched := make([]Callback, 0, 1)
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, context); ok {
			matched = append(matched, s.cb)
		}
	}
	b.mu.RUnlock()

	for _, cb := range matched {
		cb(context, args...)
	}
	return len(matched)
}

// Subscribers returns the number of connected callbacks.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
