package push

import (
	"sync"

	"tradesim/pkg/exception"
)

// OverflowPolicy defines queue behavior when a client falls behind.
type OverflowPolicy uint8

const (
	// OverflowDropNewest drops the incoming frame.
	OverflowDropNewest OverflowPolicy = iota
	// OverflowDropOldest drops the oldest queued frame to make room.
	OverflowDropOldest
)

// outbound is a bounded per-client write queue.
type outbound struct {
	mu     sync.RWMutex
	queue  chan []byte
	policy OverflowPolicy
	closed bool
}

func newOutbound(capacity int, policy OverflowPolicy) *outbound {
	if capacity <= 0 {
		capacity = 1
	}
	return &outbound{
		queue:  make(chan []byte, capacity),
		policy: policy,
	}
}

// enqueue never blocks. It reports a slow consumer when a frame was lost.
func (o *outbound) enqueue(frame []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return exception.ErrWebSocketConnectionClose
	}
	select {
	case o.queue <- frame:
		return nil
	default:
	}
	if o.policy != OverflowDropOldest {
		return exception.ErrWebSocketSlowConsumer
	}
	select {
	case <-o.queue:
	default:
	}
	select {
	case o.queue <- frame:
	default:
	}
	return exception.ErrWebSocketSlowConsumer
}

func (o *outbound) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}
