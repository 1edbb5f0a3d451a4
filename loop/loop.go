// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The loop package runs the dispatch loop that everything radio-related happens on.
// One goroutine repeatedly drains the protocol stack's pending work, then blocks on
// the shared event queue and dispatches the next asynchronous event: alarm fires go
// to the stack's AlarmFired upcall, driver completions go to the radio's event
// handlers, which in turn invoke the stack's receive/transmit-done upcalls.
//
// Because this goroutine is the sole mutator of the radio state machine and its
// frame buffers, everything it calls runs lock-free. Producers (driver interrupt
// goroutines, the alarm's timer callback) only ever post into the queue.
package loop

import (
	"github.com/tve/ot154"
	"github.com/tve/ot154/radio"
	"github.com/tve/ot154/thread"
)

// Stack is what the protocol consumer exposes to the loop: its own task queue plus
// the alarm upcall. TaskQueue provides the first two methods ready-made.
type Stack interface {
	// Process runs pending protocol work.
	Process()
	// Pending reports whether more protocol work is queued.
	Pending() bool
	// AlarmFired tells the stack its millisecond alarm went off.
	AlarmFired()
}

// Opts contains options used when initializing a Loop.
type Opts struct {
	Realtime bool            // pin the loop goroutine to a realtime OS thread
	Logger   ot154.LogPrintf // function to use for logging
}

// Loop dispatches events from a queue into a radio and a stack.
type Loop struct {
	q        *ot154.Queue
	radio    *radio.Radio
	stack    Stack
	realtime bool
	dropped  uint32
	log      ot154.LogPrintf
}

// New returns a loop wiring the queue, radio and stack together. Call Run on a
// dedicated goroutine to start dispatching.
func New(q *ot154.Queue, r *radio.Radio, stack Stack, opts Opts) *Loop {
	l := &Loop{
		q:        q,
		radio:    r,
		stack:    stack,
		realtime: opts.Realtime,
		log:      func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		l.log = func(format string, v ...interface{}) {
			opts.Logger("loop: "+format, v...)
		}
	}
	return l
}

// Run executes the dispatch loop and never returns. The loop lives as long as the
// process; there is no shutdown protocol.
func (l *Loop) Run() {
	if l.realtime {
		if err := thread.Realtime(thread.DefaultPriority); err != nil {
			l.log("cannot switch to realtime scheduling: %s", err)
		}
	}
	for {
		l.step()
	}
}

// step drains the stack's work, then waits for and dispatches one event.
func (l *Loop) step() {
	l.stack.Process()
	if l.stack.Pending() {
		return
	}
	ev := l.q.Wait()
	// Dropped events are a fault: the producers outran the consumer. Make it visible.
	if d := l.q.Dropped(); d != l.dropped {
		l.log("event queue overflowed, %d events dropped", d-l.dropped)
		l.dropped = d
	}
	switch ev.Kind {
	case ot154.EvAlarm:
		l.stack.AlarmFired()
	case ot154.EvWake:
		// nothing to dispatch, the next iteration drains the task queue
	default:
		l.radio.HandleEvent(ev)
	}
}
