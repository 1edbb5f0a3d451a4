// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package loop

import (
	"sync"

	"github.com/tve/ot154"
)

// TaskQueue is a ready-made protocol task queue for consumers that don't bring their
// own: functions posted to it run on the dispatch loop goroutine, which is the only
// place the radio may be touched from. A post from another goroutine wakes the loop
// through the event queue so the task doesn't sit until the next radio event.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []func()
	q     *ot154.Queue
}

// NewTaskQueue returns a task queue that wakes the loop waiting on q.
func NewTaskQueue(q *ot154.Queue) *TaskQueue {
	return &TaskQueue{q: q}
}

// Post queues f to run on the dispatch loop goroutine.
func (t *TaskQueue) Post(f func()) {
	t.mu.Lock()
	t.tasks = append(t.tasks, f)
	t.mu.Unlock()
	t.q.Post(ot154.Event{Kind: ot154.EvWake})
}

// Process runs queued tasks until none remain. Tasks posted by a running task are
// picked up in the same drain.
func (t *TaskQueue) Process() {
	for {
		t.mu.Lock()
		if len(t.tasks) == 0 {
			t.mu.Unlock()
			return
		}
		f := t.tasks[0]
		t.tasks = t.tasks[1:]
		t.mu.Unlock()
		f()
	}
}

// Pending reports whether tasks are queued.
func (t *TaskQueue) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks) > 0
}
