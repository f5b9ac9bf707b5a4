package stats

import (
	"sort"
	"sync"
	"time"
)

// MessageTypeStats holds per-message-type PFCP statistics.
type MessageTypeStats struct {
	Sent       uint64
	Received   uint64
	Success    uint64
	Failed     uint64
	Timeout    uint64
	Retransmit uint64
}

// Collector aggregates statistics for one scenario run.
type Collector struct {
	StartTime time.Time
	EndTime   time.Time
	SimTime   time.Duration

	SessionsProvisioned uint64
	BearersRejected     uint64
	FlowsInstalled      uint64
	FlowsStarted        uint64

	// Keyed by "<role>/<event>", e.g. "UE/HandoverStart".
	Events          map[string]uint64
	MalformedEvents uint64

	MessageStats  map[string]*MessageTypeStats
	ResponseTimes []time.Duration

	mu sync.Mutex
}

// NewCollector creates a new statistics collector.
func NewCollector() *Collector {
	return &Collector{
		StartTime:    time.Now(),
		Events:       make(map[string]uint64),
		MessageStats: make(map[string]*MessageTypeStats),
	}
}

func (c *Collector) getOrCreate(msgType string) *MessageTypeStats {
	if _, ok := c.MessageStats[msgType]; !ok {
		c.MessageStats[msgType] = &MessageTypeStats{}
	}
	return c.MessageStats[msgType]
}

// RecordSessionProvisioned counts an accepted bearer.
func (c *Collector) RecordSessionProvisioned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SessionsProvisioned++
}

// RecordBearerRejected counts an abandoned bearer.
func (c *Collector) RecordBearerRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BearersRejected++
}

// RecordFlowInstalled counts a client or server flow installation.
func (c *Collector) RecordFlowInstalled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FlowsInstalled++
}

// RecordFlowsStarted counts flows whose start time was reached.
func (c *Collector) RecordFlowsStarted(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FlowsStarted += uint64(n)
}

// RecordEvent counts a rendered connectivity event.
func (c *Collector) RecordEvent(role, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Events[role+"/"+kind]++
}

// RecordMalformedEvent counts a dropped connectivity event.
func (c *Collector) RecordMalformedEvent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MalformedEvents++
}

// RecordSent records a PFCP message being sent.
func (c *Collector) RecordSent(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Sent++
}

// RecordReceived records a PFCP response being received.
func (c *Collector) RecordReceived(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Received++
}

// RecordSuccess records a successful transaction.
func (c *Collector) RecordSuccess(msgType string, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Success++
	c.ResponseTimes = append(c.ResponseTimes, responseTime)
}

// RecordFailure records a transaction answered with a non-accepted cause.
func (c *Collector) RecordFailure(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Failed++
}

// RecordTimeout records a transaction timeout.
func (c *Collector) RecordTimeout(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Timeout++
}

// RecordRetransmit records a retransmission.
func (c *Collector) RecordRetransmit(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getOrCreate(msgType).Retransmit++
}

// Finish marks the end of the run and the simulated time reached.
func (c *Collector) Finish(simTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EndTime = time.Now()
	c.SimTime = simTime
}

// Duration returns the wall-clock time elapsed.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EndTime.IsZero() {
		return time.Since(c.StartTime)
	}
	return c.EndTime.Sub(c.StartTime)
}

// TotalEvents returns the number of rendered connectivity events.
func (c *Collector) TotalEvents() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, n := range c.Events {
		total += n
	}
	return total
}

// ResponseTimeStats returns min, avg, max, and p99 PFCP response times.
func (c *Collector) ResponseTimeStats() (min, avg, max, p99 time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ResponseTimes) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]time.Duration, len(c.ResponseTimes))
	copy(sorted, c.ResponseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))

	p99Idx := int(float64(len(sorted)) * 0.99)
	if p99Idx >= len(sorted) {
		p99Idx = len(sorted) - 1
	}
	p99 = sorted[p99Idx]

	return
}

// Snapshot returns a copy of the current statistics (thread-safe).
func (c *Collector) Snapshot() *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Collector{
		StartTime:           c.StartTime,
		EndTime:             c.EndTime,
		SimTime:             c.SimTime,
		SessionsProvisioned: c.SessionsProvisioned,
		BearersRejected:     c.BearersRejected,
		FlowsInstalled:      c.FlowsInstalled,
		FlowsStarted:        c.FlowsStarted,
		Events:              make(map[string]uint64, len(c.Events)),
		MalformedEvents:     c.MalformedEvents,
		MessageStats:        make(map[string]*MessageTypeStats, len(c.MessageStats)),
		ResponseTimes:       make([]time.Duration, len(c.ResponseTimes)),
	}
	copy(snap.ResponseTimes, c.ResponseTimes)

	for k, v := range c.Events {
		snap.Events[k] = v
	}
	for k, v := range c.MessageStats {
		s := *v
		snap.MessageStats[k] = &s
	}

	return snap
}
