package bridge

import (
	"log"
	"sync"
)

// Consumer is the transport abstraction the bridge sends outbound messages
// through. A consumer represents one remote UI context (e.g. a webview).
//
// Delivery is at-most-effectively-once per Send: the consumer never retries
// internally. Transport failures are the consumer's concern and must not
// propagate back into the bridge.
type Consumer interface {
	// Send queues the message if the consumer is not ready, otherwise
	// delivers it immediately. FIFO order is preserved either way.
	Send(msg Message)

	// IsReady reports whether the remote end has signaled readiness.
	IsReady() bool

	// SetReady flips readiness so subsequent sends deliver immediately.
	// Messages queued before readiness stay queued until Flush.
	SetReady()

	// Flush delivers all queued messages in original order, then empties
	// the queue.
	Flush()

	// Dispose clears the queue and resets readiness; no further delivery
	// is possible afterwards.
	Dispose()
}

// DeliverFunc performs the actual transport call for one message, e.g.
// posting across a process boundary. Errors are logged and the message is
// dropped; there is no retry.
type DeliverFunc func(msg Message) error

// QueuedConsumer implements Consumer over a delivery function. Messages sent
// before the remote end signals readiness are held in a FIFO queue and
// replayed by Flush.
type QueuedConsumer struct {
	mu       sync.Mutex
	ready    bool
	disposed bool
	queue    []Message
	deliver  DeliverFunc
}

// NewQueuedConsumer creates a consumer delivering through the given function.
// The consumer starts not-ready.
func NewQueuedConsumer(deliver DeliverFunc) *QueuedConsumer {
	return &QueuedConsumer{deliver: deliver}
}

// Send queues or delivers one message. See Consumer.
func (c *QueuedConsumer) Send(msg Message) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	if !c.ready {
		c.queue = append(c.queue, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.deliver(msg); err != nil {
		log.Printf("consumer: send of %s failed: %v", msg.Type, err)
	}
}

// IsReady reports current readiness.
func (c *QueuedConsumer) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// SetReady flips readiness for subsequent sends. Queued messages are not
// delivered until Flush.
func (c *QueuedConsumer) SetReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.ready = true
}

// Flush delivers all queued messages in original order and empties the queue.
func (c *QueuedConsumer) Flush() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, msg := range pending {
		if err := c.deliver(msg); err != nil {
			log.Printf("consumer: flush of %s failed: %v", msg.Type, err)
		}
	}
}

// Dispose drops the queue and prevents any further delivery. Idempotent.
func (c *QueuedConsumer) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.ready = false
	c.queue = nil
}
