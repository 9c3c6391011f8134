// Package mention implements the per-agent mention buffer and the
// wait-for-mentions coordinator semantics: bounded FIFO with
// oldest-drop overflow, single-flight waits, and direct delivery to a
// parked waiter.
package mention

import (
	"context"
	"time"

	"sync"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
	"github.com/agentmesh/agentmesh/internal/metrics"
)

const (
	// DefaultCap is the soft cap on buffered deliveries per agent.
	DefaultCap = 1024
	// DrainCap bounds how many deliveries one wait call returns.
	DrainCap = 64
)

// Buffer is one agent's FIFO of pending mention deliveries. It lives
// with the agent's registration and is discarded on explicit session
// close.
type Buffer struct {
	mu      sync.Mutex
	items   []wire.MentionDelivery
	dropped uint64
	cap     int

	// waiter is non-nil while exactly one wait call is parked. A
	// delivery arriving then bypasses the buffer entirely.
	waiter chan []wire.MentionDelivery
}

// NewBuffer creates a buffer with the given soft cap. cap <= 0 uses
// DefaultCap.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Buffer{cap: capacity}
}

// Enqueue adds a delivery. If a waiter is parked the delivery is
// handed to it directly. On overflow the oldest item is dropped and
// the drop counter bumped.
func (b *Buffer) Enqueue(d wire.MentionDelivery) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.waiter != nil {
		// The waiter channel has capacity 1 and is consumed by exactly
		// one parked call, so this send cannot block.
		b.waiter <- []wire.MentionDelivery{d}
		b.waiter = nil
		metrics.MentionsEnqueued.Inc()
		metrics.MentionsDelivered.Inc()
		return
	}

	if len(b.items) >= b.cap {
		b.items = b.items[1:]
		b.dropped++
		metrics.MentionsDropped.Inc()
	}
	b.items = append(b.items, d)
	metrics.MentionsEnqueued.Inc()
}

// Depth returns the number of buffered deliveries.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the cumulative overflow drop count.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Wait drains pending deliveries, or parks until a delivery arrives,
// the timeout elapses (empty batch, not an error), or ctx is done
// (session closed while parked — also an empty batch).
//
// At most one Wait may be active per buffer; a concurrent second call
// fails with WAIT_ALREADY_ACTIVE. Drained deliveries are removed
// before the batch is returned and are never redelivered.
func (b *Buffer) Wait(ctx context.Context, timeout time.Duration) ([]wire.MentionDelivery, error) {
	b.mu.Lock()
	if b.waiter != nil {
		b.mu.Unlock()
		return nil, wire.Errorf(wire.ErrWaitAlreadyActive, "a wait is already active for this agent")
	}
	if len(b.items) > 0 {
		batch := b.drainLocked()
		b.mu.Unlock()
		return batch, nil
	}
	if timeout <= 0 {
		b.mu.Unlock()
		return nil, nil
	}
	ch := make(chan []wire.MentionDelivery, 1)
	b.waiter = ch
	b.mu.Unlock()

	metrics.ActiveWaits.Inc()
	defer metrics.ActiveWaits.Dec()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case batch := <-ch:
		return batch, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// Timed out or cancelled: unpark, but a delivery may have raced in
	// between the select firing and the waiter being cleared.
	b.mu.Lock()
	if b.waiter == ch {
		b.waiter = nil
	}
	b.mu.Unlock()

	select {
	case batch := <-ch:
		return batch, nil
	default:
		return nil, nil
	}
}

// Abort releases a parked waiter with no deliveries. Called when the
// session that issued the wait is detached or displaced, so the next
// session's wait is not refused as concurrent and no delivery is
// handed to a dead waiter.
func (b *Buffer) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiter != nil {
		b.waiter <- nil
		b.waiter = nil
	}
}

// Discard empties the buffer. Used when a registration is evicted.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
}

func (b *Buffer) drainLocked() []wire.MentionDelivery {
	n := len(b.items)
	if n > DrainCap {
		n = DrainCap
	}
	batch := make([]wire.MentionDelivery, n)
	copy(batch, b.items[:n])
	b.items = append(b.items[:0], b.items[n:]...)
	metrics.MentionsDelivered.Add(float64(n))
	return batch
}
