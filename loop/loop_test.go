// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package loop

import (
	"sync"
	"testing"
	"time"

	"github.com/tve/ot154"
	"github.com/tve/ot154/radio"
	"github.com/tve/ot154/simdev"
)

// testStack is a Stack plus radio.Handler that signals its upcalls on channels.
type testStack struct {
	*TaskQueue
	alarm chan struct{}
	rx    chan []byte
	tx    chan error
}

func newTestStack(q *ot154.Queue) *testStack {
	return &testStack{
		TaskQueue: NewTaskQueue(q),
		alarm:     make(chan struct{}, 4),
		rx:        make(chan []byte, 4),
		tx:        make(chan error, 4),
	}
}

func (s *testStack) AlarmFired() { s.alarm <- struct{}{} }

func (s *testStack) OnReceiveDone(f *radio.Frame, err error) {
	if err != nil {
		s.rx <- nil
		return
	}
	s.rx <- append([]byte(nil), f.Payload()...)
}

func (s *testStack) OnTransmitDone(f *radio.Frame, pending bool, err error) { s.tx <- err }

// Starts a loop over a simulated device pair and returns everything a test needs.
// The radio must only be touched from tasks posted to the stack once the loop runs.
func newTestLoop(t *testing.T) (*radio.Radio, *simdev.Device, *ot154.Queue, *testStack) {
	air := simdev.NewAir(t.Logf)
	q := ot154.NewQueue(0)
	dev := air.NewDevice(q)
	peer := air.NewDevice(nil)
	stack := newTestStack(q)
	r, err := radio.New(dev, radio.Opts{Handler: stack, Logger: t.Logf})
	if err != nil {
		t.Fatalf("radio.New: %v", err)
	}
	if err := r.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := r.Receive(11); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	peer.Set(ot154.OptChannel, []byte{11, 0})
	peer.Set(ot154.OptState, []byte{byte(ot154.DevIdle)})
	go New(q, r, stack, Opts{Logger: t.Logf}).Run()
	return r, peer, q, stack
}

// A frame sent by a peer reaches the stack's receive-done upcall via the loop.
func TestLoopDispatchesReceive(t *testing.T) {
	_, peer, _, stack := newTestLoop(t)
	if err := peer.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-stack.rx:
		if string(got) != "hello" {
			t.Fatalf("receive got %q expected hello", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("receive upcall never arrived")
	}
}

// An alarm event reaches the stack's AlarmFired upcall, not the radio.
func TestLoopDispatchesAlarm(t *testing.T) {
	_, _, q, stack := newTestLoop(t)
	q.Post(ot154.Event{Kind: ot154.EvAlarm})
	select {
	case <-stack.alarm:
	case <-time.After(time.Second):
		t.Fatalf("alarm upcall never arrived")
	}
}

// Posted tasks run on the loop goroutine, in order, woken by the post itself.
func TestLoopRunsPostedTasks(t *testing.T) {
	_, _, _, stack := newTestLoop(t)
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		stack.Post(func() {
			mu.Lock()
			order = append(order, i)
			n := len(order)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("tasks never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("task order got %v expected 0,1,2", order)
		}
	}
}

// A transmit started from a posted task completes through the loop's event dispatch.
func TestLoopTransmitFromTask(t *testing.T) {
	r, _, _, stack := newTestLoop(t)
	stack.Post(func() {
		f := r.TransmitBuffer()
		f.SetPayload([]byte("out"))
		f.Channel = 11
		if err := r.Transmit(); err != nil {
			t.Errorf("Transmit: %v", err)
		}
	})
	select {
	case err := <-stack.tx:
		if err != nil {
			t.Fatalf("transmit-done got error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("transmit-done upcall never arrived")
	}
	// Once the completion was dispatched the radio is back in receive.
	done := make(chan ot154.DevState, 1)
	stack.Post(func() {
		st, _ := r.DevState()
		done <- st
	})
	if st := <-done; st != ot154.DevIdle && st != ot154.DevRx {
		t.Fatalf("device state after transmit got %v expected listening", st)
	}
}
