// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package radio

import (
	"testing"

	"github.com/tve/ot154"
	"github.com/tve/ot154/simdev"
)

// Two radios over a shared simulated medium: enable, tune both to channel 11,
// transmit from one, and drain the completion events the way the dispatch loop
// would.
func TestEndToEnd(t *testing.T) {
	air := simdev.NewAir(t.Logf)
	qA := ot154.NewQueue(0)
	qB := ot154.NewQueue(0)
	devA := air.NewDevice(qA)
	devB := air.NewDevice(qB)
	recA := &recorder{}
	recB := &recorder{}
	radioA, err := New(devA, Opts{Handler: recA, Logger: t.Logf})
	if err != nil {
		t.Fatalf("New A: %v", err)
	}
	radioB, err := New(devB, Opts{Handler: recB, Logger: t.Logf})
	if err != nil {
		t.Fatalf("New B: %v", err)
	}

	if err := radioA.Enable(); err != nil {
		t.Fatalf("A Enable: %v", err)
	}
	if err := radioA.Receive(11); err != nil {
		t.Fatalf("A Receive: %v", err)
	}
	if err := radioB.Enable(); err != nil {
		t.Fatalf("B Enable: %v", err)
	}
	if err := radioB.Receive(11); err != nil {
		t.Fatalf("B Receive: %v", err)
	}

	f := radioB.TransmitBuffer()
	f.SetPayload([]byte("over the air"))
	f.Channel = 11
	f.Power = 4
	if err := radioB.Transmit(); err != nil {
		t.Fatalf("B Transmit: %v", err)
	}
	if got := radioB.State(); got != StateTransmit {
		t.Fatalf("B state got %v expected transmit", got)
	}

	// B's queue has the tx completion, A's queue has the rx completion.
	radioB.HandleEvent(qB.Wait())
	if recB.txCalls != 1 || recB.txErr != nil || recB.txPending {
		t.Fatalf("B tx done got calls=%d err=%v pending=%v expected clean success",
			recB.txCalls, recB.txErr, recB.txPending)
	}
	if got := radioB.State(); got != StateReceive {
		t.Fatalf("B state after tx done got %v expected receive", got)
	}

	radioA.HandleEvent(qA.Wait())
	if recA.rxCalls != 1 || recA.rxErr != nil {
		t.Fatalf("A rx done got calls=%d err=%v expected one success", recA.rxCalls, recA.rxErr)
	}
	if got := string(recA.rxPayload); got != "over the air" {
		t.Fatalf("A received %q expected %q", got, "over the air")
	}
}

// A radio tuned to a different channel must not hear the transmission.
func TestChannelIsolation(t *testing.T) {
	air := simdev.NewAir(nil)
	qA := ot154.NewQueue(0)
	devA := air.NewDevice(qA)
	devB := air.NewDevice(ot154.NewQueue(0))
	recA := &recorder{}
	radioA, _ := New(devA, Opts{Handler: recA})
	radioB, _ := New(devB, Opts{Handler: &recorder{}})

	radioA.Enable()
	radioA.Receive(15)
	radioB.Enable()
	radioB.Receive(11)

	f := radioB.TransmitBuffer()
	f.SetPayload([]byte("wrong channel"))
	f.Channel = 11
	radioB.Transmit()

	if n, err := devA.Recv(nil); err == nil {
		t.Fatalf("A has a %d byte pending frame from another channel", n)
	}
}
