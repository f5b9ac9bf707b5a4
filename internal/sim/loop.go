package sim

import (
	"context"
	"sort"
	"sync"
	"time"
)

type scheduledEvent struct {
	id        uint64
	at        time.Duration
	fn        func()
	cancelled bool
}

// Loop is a single-threaded simulated clock with a time-ordered event queue.
// Events scheduled for the same instant run in scheduling order.
type Loop struct {
	mu      sync.Mutex
	now     time.Duration
	counter uint64
	events  []*scheduledEvent // earliest first
	index   map[uint64]*scheduledEvent
}

// NewLoop creates a loop at simulated time zero.
func NewLoop() *Loop {
	return &Loop{index: make(map[uint64]*scheduledEvent)}
}

// Now returns the current simulated time.
func (l *Loop) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Schedule registers fn to run at simulated time at. Times in the past run
// at the current time.
func (l *Loop) Schedule(at time.Duration, fn func()) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if at < l.now {
		at = l.now
	}
	l.counter++
	ev := &scheduledEvent{id: l.counter, at: at, fn: fn}

	idx := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].at > ev.at
	})
	l.events = append(l.events, nil)
	copy(l.events[idx+1:], l.events[idx:])
	l.events[idx] = ev
	l.index[ev.id] = ev

	return ev.id
}

// ScheduleIn registers fn to run d after the current time.
func (l *Loop) ScheduleIn(d time.Duration, fn func()) uint64 {
	return l.Schedule(l.Now()+d, fn)
}

// Cancel drops a pending event. Unknown or already run ids are ignored.
func (l *Loop) Cancel(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev, ok := l.index[id]; ok {
		ev.cancelled = true
		delete(l.index, id)
	}
}

// Pending returns the number of events still queued.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.index)
}

// Run executes events in time order until the queue is empty or the next
// event lies beyond until, then advances the clock to until. Events due
// exactly at until still run. Cancellation is checked between events.
func (l *Loop) Run(ctx context.Context, until time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		ev := l.popLocked(until)
		if ev == nil {
			if l.now < until {
				l.now = until
			}
			l.mu.Unlock()
			return nil
		}
		l.now = ev.at
		l.mu.Unlock()

		// outside the lock so callbacks can schedule more events
		if ev.fn != nil {
			ev.fn()
		}
	}
}

func (l *Loop) popLocked(until time.Duration) *scheduledEvent {
	for len(l.events) > 0 {
		ev := l.events[0]
		if ev.cancelled {
			l.events = l.events[1:]
			continue
		}
		if ev.at > until {
			return nil
		}
		l.events = l.events[1:]
		delete(l.index, ev.id)
		return ev
	}
	return nil
}
