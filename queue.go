// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package ot154

import "sync/atomic"

// DefaultQueueLen is the event queue capacity used by the commands in this module.
// Five slots is plenty: the radio produces at most one rx and one tx completion at a
// time and the alarm at most one fire.
const DefaultQueueLen = 5

// Queue is the bounded event queue between the producer contexts (driver interrupt
// goroutines, timer callbacks) and the single dispatch loop. Posting never blocks:
// when the queue is full the new event is dropped and counted, because stalling an
// interrupt-context producer would be worse than losing the notification. Drops are
// a fault condition the consumer can detect via Dropped, not business as usual.
type Queue struct {
	ch      chan Event
	dropped uint32
}

// NewQueue returns a queue with the given capacity, or DefaultQueueLen if n <= 0.
func NewQueue(n int) *Queue {
	if n <= 0 {
		n = DefaultQueueLen
	}
	return &Queue{ch: make(chan Event, n)}
}

// Post enqueues ev without blocking and returns false if the queue was full and the
// event got dropped. Safe to call from any goroutine.
func (q *Queue) Post(ev Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		atomic.AddUint32(&q.dropped, 1)
		return false
	}
}

// Wait blocks until an event is available and returns it. Only the dispatch loop
// calls Wait.
func (q *Queue) Wait() Event { return <-q.ch }

// Dropped returns the number of events dropped due to overflow since creation.
func (q *Queue) Dropped() uint32 { return atomic.LoadUint32(&q.dropped) }
