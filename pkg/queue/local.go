package queue

import (
	"context"
	"sync"
	"time"
)

// LocalQueue is a channel-backed Producer+Consumer for tests and
// single-process runs. Delayed messages are scheduled with timers; delivery
// is at-least-once in spirit (a handler error requeues the message once the
// caller decides to).
type LocalQueue struct {
	ch     chan Message
	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

var (
	_ Producer = (*LocalQueue)(nil)
	_ Consumer = (*LocalQueue)(nil)
)

func NewLocalQueue(buffer int) *LocalQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &LocalQueue{ch: make(chan Message, buffer)}
}

func (q *LocalQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	if delay <= 0 {
		select {
		case q.ch <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return context.Canceled
	}
	timer := time.AfterFunc(delay, func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		q.ch <- msg
	})
	q.timers = append(q.timers, timer)
	return nil
}

// Run delivers messages to the handler until the context is cancelled.
// Handler errors are logged by the handler side; the message is not
// redelivered automatically.
func (q *LocalQueue) Run(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			_ = handler(ctx, msg)
		}
	}
}

// TryDequeue pops one message without blocking. Test helper for driving the
// pipeline step by step.
func (q *LocalQueue) TryDequeue() (Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return Message{}, false
	}
}

// Len reports the number of immediately deliverable messages.
func (q *LocalQueue) Len() int {
	return len(q.ch)
}

// Close stops delayed deliveries.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, t := range q.timers {
		t.Stop()
	}
}
