// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package radio

import (
	"testing"

	"github.com/tve/ot154"
	"github.com/tve/ot154/simdev"
)

// recorder captures upcalls so tests can assert on them. It copies the payload at
// call time because the radio reuses its frame buffers.
type recorder struct {
	rxPayload []byte
	rxErr     error
	rxCalls   int
	txPending bool
	txErr     error
	txCalls   int
	txPayload []byte
}

func (rec *recorder) OnReceiveDone(f *Frame, err error) {
	rec.rxCalls++
	rec.rxErr = err
	if f != nil {
		rec.rxPayload = append([]byte(nil), f.Payload()...)
	} else {
		rec.rxPayload = nil
	}
}

func (rec *recorder) OnTransmitDone(f *Frame, pending bool, err error) {
	rec.txCalls++
	rec.txPending = pending
	rec.txErr = err
	if f != nil {
		rec.txPayload = append([]byte(nil), f.Payload()...)
	}
}

func newTestRadio(t *testing.T) (*Radio, *simdev.Device, *recorder) {
	t.Helper()
	air := simdev.NewAir(t.Logf)
	dev := air.NewDevice(nil)
	rec := &recorder{}
	r, err := New(dev, Opts{Handler: rec, Logger: t.Logf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, dev, rec
}

func TestLifecycle(t *testing.T) {
	r, _, _ := newTestRadio(t)
	if got := r.State(); got != StateDisabled {
		t.Fatalf("initial state got %v expected disabled", got)
	}
	if r.IsEnabled() {
		t.Fatalf("IsEnabled true on a disabled radio")
	}
	if err := r.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if got := r.State(); got != StateSleep {
		t.Fatalf("state after Enable got %v expected sleep", got)
	}
	if !r.IsEnabled() {
		t.Fatalf("IsEnabled false after Enable")
	}
	if err := r.Receive(11); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got := r.State(); got != StateReceive {
		t.Fatalf("state after Receive got %v expected receive", got)
	}
	if ch, err := r.Channel(); err != nil || ch != 11 {
		t.Fatalf("Channel got %d/%v expected 11", ch, err)
	}
	if err := r.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := r.State(); got != StateDisabled {
		t.Fatalf("state after Disable got %v expected disabled", got)
	}
}

func TestEnableIdempotent(t *testing.T) {
	r, _, _ := newTestRadio(t)
	if err := r.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := r.Enable(); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if got := r.State(); got != StateSleep {
		t.Fatalf("state got %v expected sleep", got)
	}
}

// Sleep powers the device all the way down: through Sleep into Disabled.
func TestSleepDisables(t *testing.T) {
	r, _, _ := newTestRadio(t)
	r.Enable()
	r.Receive(15)
	if err := r.Sleep(); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := r.State(); got != StateDisabled {
		t.Fatalf("state after Sleep got %v expected disabled", got)
	}
	if r.IsEnabled() {
		t.Fatalf("IsEnabled true after Sleep")
	}
}

func TestBusyRejections(t *testing.T) {
	r, dev, _ := newTestRadio(t)
	r.Enable()
	r.Receive(11)
	// Force the device mid-reception.
	dev.Set(ot154.OptState, []byte{byte(ot154.DevRx)})
	if err := r.Disable(); err != ot154.ErrBusy {
		t.Fatalf("Disable on busy device got %v expected ErrBusy", err)
	}
	if err := r.Sleep(); err != ot154.ErrBusy {
		t.Fatalf("Sleep on busy device got %v expected ErrBusy", err)
	}
	if err := r.Receive(12); err != ot154.ErrBusy {
		t.Fatalf("Receive on busy device got %v expected ErrBusy", err)
	}
	// Enable on a busy device is the already-enabled no-op.
	if err := r.Enable(); err != nil {
		t.Fatalf("Enable on busy device got %v expected success", err)
	}
}

func TestTransmitWhileTransmitting(t *testing.T) {
	r, dev, _ := newTestRadio(t)
	r.Enable()
	r.Receive(11)
	f := r.TransmitBuffer()
	f.SetPayload([]byte("first"))
	f.Channel = 11
	f.Power = 4
	if err := r.Transmit(); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if got := r.State(); got != StateTransmit {
		t.Fatalf("state after Transmit got %v expected transmit", got)
	}
	// A second Transmit before the completion event is a contract breach: rejected,
	// counted, and no second send issued.
	if err := r.Transmit(); err != ot154.ErrBusy {
		t.Fatalf("second Transmit got %v expected ErrBusy", err)
	}
	if got := r.Faults(); got != 1 {
		t.Fatalf("Faults got %d expected 1", got)
	}
	if got := string(dev.LastSent()); got != "first" {
		t.Fatalf("device saw %q expected the single first frame", got)
	}
	if got := string(f.Payload()); got != "first" {
		t.Fatalf("outbound frame was altered to %q", got)
	}
}

func TestTransmitStrictPanics(t *testing.T) {
	air := simdev.NewAir(nil)
	dev := air.NewDevice(nil)
	r, err := New(dev, Opts{Handler: &recorder{}, Strict: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Enable()
	r.Receive(11)
	dev.Set(ot154.OptState, []byte{byte(ot154.DevTx)})
	defer func() {
		if recover() == nil {
			t.Fatalf("Transmit while busy did not panic in strict mode")
		}
	}()
	r.Transmit()
}

func TestTxDoneMapping(t *testing.T) {
	cases := map[string]struct {
		kind    ot154.EventKind
		pending bool
		err     error
	}{
		"complete":     {ot154.EvTxComplete, false, nil},
		"data-pending": {ot154.EvTxCompleteDataPending, true, nil},
		"noack":        {ot154.EvTxNoAck, false, ot154.ErrNoAck},
		"medium-busy":  {ot154.EvTxMediumBusy, false, ot154.ErrChannelAccess},
	}
	for n, tc := range cases {
		r, dev, rec := newTestRadio(t)
		r.Enable()
		r.Receive(11)
		dev.SetTxOutcome(tc.kind)
		f := r.TransmitBuffer()
		f.SetPayload([]byte(n))
		f.Channel = 11
		if err := r.Transmit(); err != nil {
			t.Fatalf("%s: Transmit: %v", n, err)
		}
		r.HandleEvent(ot154.Event{Kind: tc.kind})
		if rec.txCalls != 1 {
			t.Fatalf("%s: got %d tx upcalls expected 1", n, rec.txCalls)
		}
		if rec.txPending != tc.pending || rec.txErr != tc.err {
			t.Fatalf("%s: got pending=%v err=%v expected pending=%v err=%v",
				n, rec.txPending, rec.txErr, tc.pending, tc.err)
		}
		if got := string(rec.txPayload); got != n {
			t.Fatalf("%s: tx frame payload got %q", n, got)
		}
		// All four outcomes return the radio to receive.
		if got := r.State(); got != StateReceive {
			t.Fatalf("%s: state got %v expected receive", n, got)
		}
	}
}
