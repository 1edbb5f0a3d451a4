// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The alarm package provides the single millisecond alarm the protocol stack uses
// for all its timing: schedule one deferred wake-up, cancel it, and read a monotonic
// millisecond clock. The fire notification is posted into the shared event queue and
// reaches the stack as an AlarmFired upcall from the dispatch loop.
//
// At most one fire is scheduled at a time: arming the alarm again replaces the
// earlier schedule. A notification that was already posted into the queue is not
// recalled, neither by re-arming nor by Stop.
package alarm

import (
	"sync"
	"time"

	"github.com/tve/ot154"
)

// Alarm schedules deferred wake-ups into an event queue.
type Alarm struct {
	q     *ot154.Queue
	epoch time.Time
	mu    sync.Mutex
	timer *time.Timer
	gen   uint32 // invalidates callbacks of replaced or stopped timers
	log   ot154.LogPrintf
}

// Opts contains options used when initializing an Alarm.
type Opts struct {
	Logger ot154.LogPrintf // function to use for logging
}

// New returns an alarm posting its fire notifications into q.
func New(q *ot154.Queue, opts Opts) *Alarm {
	a := &Alarm{
		q:     q,
		epoch: time.Now(),
		log:   func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		a.log = func(format string, v ...interface{}) {
			opts.Logger("alarm: "+format, v...)
		}
	}
	return a
}

// Now returns the monotonic time in milliseconds. The value is derived from the
// process monotonic clock and never goes backward; it wraps after ~49 days, which
// the uint32 arithmetic in StartAt is built for.
func (a *Alarm) Now() uint32 {
	return uint32(time.Since(a.epoch) / time.Millisecond)
}

// StartAt schedules the alarm to fire dt milliseconds after the reference time t0,
// replacing any earlier schedule. A zero dt posts the fire notification right here
// instead of going through the timer, so the loop sees it before any later event. A
// reference time already more than dt in the past also fires immediately.
func (a *Alarm) StartAt(t0, dt uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if dt == 0 {
		a.post()
		return
	}
	// Signed distance handles the uint32 wrap of the millisecond clock.
	delay := int32(t0 + dt - a.Now())
	if delay <= 0 {
		a.post()
		return
	}
	// A callback of a timer that fired concurrently with a Stop or re-arm must not
	// post, hence the generation check.
	gen := a.gen
	a.timer = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		a.mu.Lock()
		if a.gen == gen {
			a.timer = nil
			a.post()
		}
		a.mu.Unlock()
	})
}

// Stop cancels a scheduled fire. It is idempotent and a no-op when nothing is
// scheduled; a notification already posted into the queue is not recalled.
func (a *Alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// post must be called with the mutex held or from StartAt's locked path. Failing to
// deliver the fire is a fault the consumer should notice, hence the log.
func (a *Alarm) post() {
	if !a.q.Post(ot154.Event{Kind: ot154.EvAlarm}) {
		a.log("fire dropped, event queue full")
	}
}
