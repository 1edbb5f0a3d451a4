// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The radio package implements the lifecycle state machine for a single 802.15.4
// transceiver accessed through a netdev driver. The protocol stack drives it with
// Enable/Disable/Sleep/Receive/Transmit commands and gets OnReceiveDone and
// OnTransmitDone upcalls when the driver signals completion.
//
// The following are the valid state transitions:
//
//                                  (Radio ON)
//  +----------+  Enable()  +-------+  Receive() +---------+   Transmit()  +----------+
//  |          |----------->|       |----------->|         |-------------->|          |
//  | Disabled |            | Sleep |            | Receive |               | Transmit |
//  |          |<-----------|       |<-----------|         |<--------------|          |
//  +----------+  Disable() +-------+   Sleep()  +---------+  TransmitDone +----------+
//                                  (Radio OFF)
//
// None of the methods are safe for concurrent use: commands and HandleEvent must all
// be issued from the dispatch loop goroutine, which is the sole mutator of the state
// machine and its frame buffers. Driver interrupt goroutines only ever post events
// into the queue, they never touch the Radio. This single-writer rule is what makes
// the state machine lock-free.
//
// Transmitting while a transmit or receive is in flight is a contract violation by
// the stack, not a runtime condition: it is counted, reported as busy, and panics
// when Opts.Strict is set.
package radio

import (
	"fmt"
	"time"

	"github.com/tve/ot154"
)

// State is the lifecycle state of the radio. Exactly one is active at any time and
// transitions happen only through the commands below plus the transmit-done event.
type State uint8

const (
	StateDisabled State = iota
	StateSleep
	StateReceive
	StateTransmit
)

func (s State) String() string {
	return [...]string{"disabled", "sleep", "receive", "transmit"}[s]
}

// Caps describes hardware offload capabilities the radio advertises to the stack.
type Caps uint8

const (
	CapAckTimeout Caps = 1 << iota
	CapCsmaBackoff
	CapTransmitRetries
)

// Handler receives the asynchronous completion upcalls. The stack owns all policy:
// retries, backoff and scheduling decisions happen above this package.
type Handler interface {
	// OnReceiveDone delivers a received frame, or a nil frame with ErrAbort when
	// reception failed. The frame is only valid for the duration of the call.
	OnReceiveDone(f *Frame, err error)
	// OnTransmitDone reports the outcome of a Transmit: err is nil, ErrNoAck or
	// ErrChannelAccess, and pending indicates the peer advertised queued data.
	OnTransmitDone(f *Frame, pending bool, err error)
}

// Opts contains options used when initializing a Radio.
type Opts struct {
	Handler Handler         // completion upcalls, required
	Caps    Caps            // advertised capabilities, defaults to all three
	Strict  bool            // panic on caller contract breaches instead of just counting
	Logger  ot154.LogPrintf // function to use for logging
}

// Radio is the state machine for one transceiver. Both frame buffers are allocated
// once and reused for the life of the radio.
type Radio struct {
	dev     ot154.Driver
	handler Handler
	caps    Caps
	strict  bool
	state   State
	faults  int
	txFrame Frame
	rxFrame Frame
	log     ot154.LogPrintf
}

// New returns a radio in the Disabled state on top of the given netdev driver.
func New(dev ot154.Driver, opts Opts) (*Radio, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("radio: a Handler is required")
	}
	caps := opts.Caps
	if caps == 0 {
		caps = CapAckTimeout | CapCsmaBackoff | CapTransmitRetries
	}
	r := &Radio{
		dev:     dev,
		handler: opts.Handler,
		caps:    caps,
		strict:  opts.Strict,
		state:   StateDisabled,
		txFrame: Frame{Psdu: make([]byte, MaxFrameSize)},
		rxFrame: Frame{Psdu: make([]byte, MaxFrameSize)},
		log:     func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) {
			opts.Logger("radio: "+format, v...)
		}
	}
	return r, nil
}

// Enable powers the radio up into Sleep. It is idempotent: enabling an already
// active radio is a successful no-op, even mid reception or transmission.
func (r *Radio) Enable() error {
	if r.Busy() {
		r.log("Enable: already enabled and busy")
		return nil
	}
	if err := r.setDevState(ot154.DevSleep); err != nil {
		return err
	}
	r.state = StateSleep
	return nil
}

// Disable powers the radio down. Fails with ErrBusy while a transmit or receive is
// in flight.
func (r *Radio) Disable() error {
	if r.Busy() {
		r.log("Disable: busy")
		return ot154.ErrBusy
	}
	if err := r.setDevState(ot154.DevOff); err != nil {
		return err
	}
	r.state = StateDisabled
	return nil
}

// Sleep requests low power. A sleep request powers the device all the way down: the
// state passes through Sleep and ends in Disabled, the stack re-enables cheaply via
// Enable when it next needs the radio. Fails with ErrBusy while a transmit or
// receive is in flight.
func (r *Radio) Sleep() error {
	if r.Busy() {
		r.log("Sleep: busy")
		return ot154.ErrBusy
	}
	if err := r.setDevState(ot154.DevSleep); err != nil {
		return err
	}
	r.state = StateSleep
	return r.Disable()
}

// Receive tunes to the given channel and starts listening. Fails with ErrBusy while
// a transmit or receive is in flight.
func (r *Radio) Receive(channel uint8) error {
	if r.Busy() {
		r.log("Receive: busy")
		return ot154.ErrBusy
	}
	if err := r.SetChannel(uint16(channel)); err != nil {
		return err
	}
	r.rxFrame.Channel = channel
	if err := r.setDevState(ot154.DevIdle); err != nil {
		return err
	}
	r.state = StateReceive
	return nil
}

// TransmitBuffer returns the outbound frame for the stack to fill (payload, length,
// channel, power) before calling Transmit. The buffer is owned by the radio and
// reused across transmissions.
func (r *Radio) TransmitBuffer() *Frame { return &r.txFrame }

// Transmit sends the frame previously placed in TransmitBuffer. The radio must be in
// Receive with no reception in progress; the stack guarantees it never transmits
// while busy, so a violation is a programming error in the caller: the frame is left
// untouched, no second send is issued, and with Opts.Strict set the radio panics.
// Completion arrives asynchronously via OnTransmitDone, which also returns the state
// to Receive.
func (r *Radio) Transmit() error {
	if r.state == StateTransmit || r.Busy() {
		r.faults++
		r.log("Transmit: busy, caller contract breach #%d", r.faults)
		if r.strict {
			panic("radio: Transmit while busy")
		}
		return ot154.ErrBusy
	}
	f := &r.txFrame
	if err := r.SetChannel(uint16(f.Channel)); err != nil {
		return err
	}
	if err := r.SetPower(int16(f.Power)); err != nil {
		return err
	}
	if err := r.dev.Send(f.Psdu[:f.Len]); err != nil {
		return err
	}
	r.state = StateTransmit
	return nil
}

// State returns the current lifecycle state.
func (r *Radio) State() State { return r.state }

// DeviceState maps the raw device state reported by the driver onto the lifecycle
// states, mainly useful for diagnostics.
func (r *Radio) DeviceState() State {
	s, err := r.DevState()
	if err != nil {
		return StateDisabled
	}
	switch s {
	case ot154.DevSleep:
		return StateSleep
	case ot154.DevIdle, ot154.DevRx:
		return StateReceive
	case ot154.DevTx:
		return StateTransmit
	}
	return StateDisabled
}

// Caps returns the advertised capabilities.
func (r *Radio) Caps() Caps { return r.caps }

// IsEnabled reports whether the device is powered.
func (r *Radio) IsEnabled() bool {
	s, err := r.DevState()
	return err == nil && s != ot154.DevOff
}

// Busy reports whether the device is mid reception or transmission.
func (r *Radio) Busy() bool {
	s, err := r.DevState()
	return err == nil && (s == ot154.DevRx || s == ot154.DevTx)
}

// Faults returns the number of caller contract breaches seen so far.
func (r *Radio) Faults() int { return r.faults }

// Rssi returns the most recent RSSI measurement. The measurement is not wired up,
// the value is a placeholder.
// TODO: read the energy detection value from drivers that expose it.
func (r *Radio) Rssi() int8 { return 0 }

// NoiseFloor returns the noise floor estimate. Not wired up, placeholder value.
func (r *Radio) NoiseFloor() int8 { return 0 }

// EnergyScan is accepted for interface completeness but performs no scan.
func (r *Radio) EnergyScan(channel uint8, duration time.Duration) error { return nil }
