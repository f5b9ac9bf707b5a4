package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/stats"
	"handover-sim/pkg/types"
)

// Sender transmits an encoded request.
type Sender interface {
	Send(data []byte) error
}

type pendingTransaction struct {
	seqNum      uint32
	msgType     string
	requestData []byte
	sentAt      time.Time
	firstSentAt time.Time
	retryCount  int
	resultCh    chan types.TransactionResult
}

// TransactionTracker matches responses to outstanding requests by sequence
// number and retransmits requests that time out.
type TransactionTracker struct {
	pending    map[uint32]*pendingTransaction
	mu         sync.Mutex
	timeout    time.Duration
	maxRetries int
	sender     Sender
	stats      *stats.Collector
}

// NewTransactionTracker creates a tracker. stats may be nil.
func NewTransactionTracker(sender Sender, timeout time.Duration, maxRetries int, st *stats.Collector) *TransactionTracker {
	return &TransactionTracker{
		pending:    make(map[uint32]*pendingTransaction),
		timeout:    timeout,
		maxRetries: maxRetries,
		sender:     sender,
		stats:      st,
	}
}

// Track registers a pending transaction and returns the channel its result
// is delivered on.
func (t *TransactionTracker) Track(seqNum uint32, msgType string, requestData []byte) <-chan types.TransactionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	resultCh := make(chan types.TransactionResult, 1)
	t.pending[seqNum] = &pendingTransaction{
		seqNum:      seqNum,
		msgType:     msgType,
		requestData: requestData,
		sentAt:      now,
		firstSentAt: now,
		resultCh:    resultCh,
	}
	return resultCh
}

// Exchange sends a request and waits for its response, a final timeout, or
// the end of ctx.
func (t *TransactionTracker) Exchange(ctx context.Context, seqNum uint32, msgType string, data []byte) types.TransactionResult {
	resultCh := t.Track(seqNum, msgType, data)
	if t.stats != nil {
		t.stats.RecordSent(msgType)
	}

	if err := t.sender.Send(data); err != nil {
		t.drop(seqNum)
		return types.TransactionResult{SeqNum: seqNum, Error: err}
	}

	select {
	case <-ctx.Done():
		t.drop(seqNum)
		return types.TransactionResult{SeqNum: seqNum, Error: ctx.Err()}
	case result := <-resultCh:
		return result
	}
}

func (t *TransactionTracker) drop(seqNum uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, seqNum)
}

// Resolve completes the transaction a response belongs to.
func (t *TransactionTracker) Resolve(seqNum uint32, responseData []byte) {
	t.mu.Lock()
	tx, exists := t.pending[seqNum]
	if !exists {
		t.mu.Unlock()
		log.WithField("seq_num", seqNum).Warn("Received response for unknown transaction")
		return
	}
	delete(t.pending, seqNum)
	t.mu.Unlock()

	tx.resultCh <- types.TransactionResult{
		SeqNum:       seqNum,
		Response:     responseData,
		ResponseTime: time.Since(tx.firstSentAt),
	}
}

// Consume resolves every message read from msgs until it closes or ctx ends.
func (t *TransactionTracker) Consume(ctx context.Context, msgs <-chan ReceivedMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case received, ok := <-msgs:
			if !ok {
				return
			}
			t.Resolve(received.Message.Sequence(), received.Data)
		}
	}
}

// StartTimeoutMonitor checks for timed-out transactions until ctx ends.
func (t *TransactionTracker) StartTimeoutMonitor(ctx context.Context) {
	interval := t.timeout / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	if interval > 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.checkTimeouts()
			}
		}
	}()
}

func (t *TransactionTracker) checkTimeouts() {
	t.mu.Lock()
	var timedOut []*pendingTransaction
	now := time.Now()
	for _, tx := range t.pending {
		if now.Sub(tx.sentAt) > t.timeout {
			timedOut = append(timedOut, tx)
		}
	}
	t.mu.Unlock()

	for _, tx := range timedOut {
		t.handleTimeout(tx)
	}
}

func (t *TransactionTracker) handleTimeout(tx *pendingTransaction) {
	t.mu.Lock()
	// may have been resolved between check and handle
	if _, exists := t.pending[tx.seqNum]; !exists {
		t.mu.Unlock()
		return
	}

	if tx.retryCount < t.maxRetries {
		tx.retryCount++
		tx.sentAt = time.Now()
		t.mu.Unlock()

		log.WithFields(log.Fields{
			"seq_num":  tx.seqNum,
			"msg_type": tx.msgType,
			"attempt":  tx.retryCount,
			"max":      t.maxRetries,
		}).Warn("Transaction timeout, retransmitting")
		if t.stats != nil {
			t.stats.RecordRetransmit(tx.msgType)
		}

		if err := t.sender.Send(tx.requestData); err != nil {
			log.WithError(err).WithField("seq_num", tx.seqNum).Error("Retransmission failed")
		}
		return
	}

	delete(t.pending, tx.seqNum)
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"seq_num":  tx.seqNum,
		"msg_type": tx.msgType,
		"retries":  t.maxRetries,
	}).Error("Transaction failed after max retries")
	if t.stats != nil {
		t.stats.RecordTimeout(tx.msgType)
	}

	tx.resultCh <- types.TransactionResult{
		SeqNum: tx.seqNum,
		Error:  fmt.Errorf("%s timeout after %d retries", tx.msgType, t.maxRetries),
	}
}

// PendingCount returns the number of outstanding transactions.
func (t *TransactionTracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// CancelAll fails every outstanding transaction.
func (t *TransactionTracker) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for seqNum, tx := range t.pending {
		tx.resultCh <- types.TransactionResult{
			SeqNum: seqNum,
			Error:  fmt.Errorf("cancelled"),
		}
		delete(t.pending, seqNum)
	}
}
