package network

import (
	"sync"
	"time"

	"github.com/stormfell/gameserver/internal/protocol"
)

// messageQueue is an unbounded FIFO with blocking, timed, and
// non-blocking retrieval. Producers never block.
//
// The wake channel is a one-slot monitor: push sets it, a woken
// consumer re-checks emptiness and, if messages remain, passes the
// signal on so no push is ever lost across multiple consumers.
//
// Invariant: messages from one producer goroutine come out in the order
// that producer pushed them.
type messageQueue struct {
	mu    sync.Mutex
	items []*protocol.Message
	wake  chan struct{}
}

func newMessageQueue() *messageQueue {
	return &messageQueue{wake: make(chan struct{}, 1)}
}

// push appends m and signals one waiting consumer.
func (q *messageQueue) push(m *protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
}

func (q *messageQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the head, or nil when the queue is empty.
// When messages remain after the removal, the wake signal is re-armed
// for the next consumer.
func (q *messageQueue) pop() *protocol.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return m
}

// get blocks until a message is available.
func (q *messageQueue) get() *protocol.Message {
	for {
		if m := q.pop(); m != nil {
			return m
		}
		<-q.wake
	}
}

// getTimeout waits up to d for a message. Returns (nil, false) when the
// queue stays empty for the whole wait.
func (q *messageQueue) getTimeout(d time.Duration) (*protocol.Message, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		if m := q.pop(); m != nil {
			return m, true
		}
		select {
		case <-q.wake:
			// Re-check: another consumer may have taken the message that
			// armed this signal.
		case <-timer.C:
			// One final check covers a push racing the timer.
			if m := q.pop(); m != nil {
				return m, true
			}
			return nil, false
		}
	}
}

// tryGet returns the head without waiting, or (nil, false) when empty.
func (q *messageQueue) tryGet() (*protocol.Message, bool) {
	m := q.pop()
	return m, m != nil
}

// len returns the number of queued messages.
func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
