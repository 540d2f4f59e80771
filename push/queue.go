package push

import (
	"errors"
	"sync"
)

// ErrQueueFull is returned by Queue.Send when the connection is not keeping up.
var ErrQueueFull = errors.New("send queue full")

// ErrQueueClosed is returned by Queue.Send after Close.
var ErrQueueClosed = errors.New("send queue closed")

// Queue is a bounded, non-blocking Sink. Transports drain C() and write to
// the wire.
type Queue struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewQueue creates a queue holding up to size undelivered messages.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan Message, size)}
}

// Send implements Sink.
func (q *Queue) Send(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// C returns the channel of queued messages. It is closed by Close.
func (q *Queue) C() <-chan Message {
	return q.ch
}

// Close stops accepting messages. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
