// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The simdev package provides an in-memory netdev driver so the radio state machine,
// the dispatch loop and the commands can run without hardware. Devices created from
// the same Air hear each other's transmissions when they are tuned to the same
// channel and are listening. Properties are stored as the raw bytes the device was
// handed, which is exactly what the byte-order tests in the radio package need to
// observe.
//
// The driver mimics an interrupt-context producer: completion events are posted into
// the device's queue and never block, and a receive burst beyond the pending-frame
// buffer drops frames and counts them.
package simdev

import (
	"fmt"
	"sync"

	"github.com/tve/ot154"
)

// rxPendCap limits the frames a device holds between Recv calls, mirroring the tiny
// rx FIFO of a real transceiver.
const rxPendCap = 4

// Air is the shared medium connecting simulated devices.
type Air struct {
	mu   sync.Mutex
	devs []*Device
	log  ot154.LogPrintf
}

// NewAir returns an empty medium. logger may be nil.
func NewAir(logger ot154.LogPrintf) *Air {
	a := &Air{log: func(format string, v ...interface{}) {}}
	if logger != nil {
		a.log = func(format string, v ...interface{}) {
			logger("simdev: "+format, v...)
		}
	}
	return a
}

// NewDevice attaches a new powered-off device to the medium. Completion events are
// posted into q, which may be nil when only the property plumbing is exercised.
func (a *Air) NewDevice(q *ot154.Queue) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := &Device{
		air:       a,
		q:         q,
		props:     make(map[ot154.Option][]byte),
		state:     ot154.DevOff,
		txOutcome: ot154.EvTxComplete,
	}
	a.devs = append(a.devs, d)
	return d
}

// deliver hands a frame to every other device listening on the same channel.
func (a *Air) deliver(from *Device, channel []byte, frame []byte) {
	a.mu.Lock()
	devs := make([]*Device, len(a.devs))
	copy(devs, a.devs)
	a.mu.Unlock()

	for _, d := range devs {
		if d == from {
			continue
		}
		d.mu.Lock()
		listening := d.state == ot154.DevIdle || d.state == ot154.DevRx
		sameChan := string(d.props[ot154.OptChannel]) == string(channel)
		d.mu.Unlock()
		if listening && sameChan {
			d.Inject(frame)
		}
	}
}

// Device is one simulated transceiver implementing ot154.Driver.
type Device struct {
	air       *Air
	q         *ot154.Queue
	mu        sync.Mutex
	props     map[ot154.Option][]byte
	state     ot154.DevState
	rxPend    [][]byte
	rxDropped int
	lastTx    []byte
	txOutcome ot154.EventKind
	recvErr   error // injected failure for the next payload read
}

// Get reads property opt into buf.
func (d *Device) Get(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("simdev: get %v with %d bytes, want %d", opt, len(buf), opt.Size())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if opt == ot154.OptState {
		buf[0] = byte(d.state)
		return nil
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, d.props[opt])
	return nil
}

// Set writes property opt from buf, storing the raw bytes untouched.
func (d *Device) Set(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("simdev: set %v with %d bytes, want %d", opt, len(buf), opt.Size())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if opt == ot154.OptState {
		d.state = ot154.DevState(buf[0])
		return nil
	}
	d.props[opt] = append([]byte(nil), buf...)
	return nil
}

// Send transmits the concatenation of bufs over the air and posts the configured
// completion outcome. It never blocks.
func (d *Device) Send(bufs ...[]byte) error {
	d.mu.Lock()
	if d.state == ot154.DevOff {
		d.mu.Unlock()
		return fmt.Errorf("simdev: send while powered off")
	}
	var frame []byte
	for _, b := range bufs {
		frame = append(frame, b...)
	}
	d.lastTx = frame
	d.state = ot154.DevTx
	outcome := d.txOutcome
	channel := append([]byte(nil), d.props[ot154.OptChannel]...)
	d.mu.Unlock()

	if outcome == ot154.EvTxComplete || outcome == ot154.EvTxCompleteDataPending {
		d.air.deliver(d, channel, frame)
	}
	d.mu.Lock()
	d.state = ot154.DevIdle
	d.mu.Unlock()
	d.post(ot154.Event{Kind: outcome})
	return nil
}

// Recv reads the oldest pending frame into buf, or returns its length if buf is nil.
func (d *Device) Recv(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rxPend) == 0 {
		return 0, fmt.Errorf("simdev: no pending frame")
	}
	head := d.rxPend[0]
	if buf == nil {
		return len(head), nil
	}
	if err := d.recvErr; err != nil {
		d.recvErr = nil
		d.rxPend = d.rxPend[1:]
		return 0, err
	}
	d.rxPend = d.rxPend[1:]
	return copy(buf, head), nil
}

// Inject delivers a frame to this device as if it arrived over the air and posts an
// EvRxComplete carrying the frame length.
func (d *Device) Inject(frame []byte) {
	d.mu.Lock()
	if len(d.rxPend) >= rxPendCap {
		d.rxDropped++
		d.mu.Unlock()
		d.air.log("rx overflow, %d dropped", d.rxDropped)
		return
	}
	d.rxPend = append(d.rxPend, append([]byte(nil), frame...))
	d.mu.Unlock()
	d.post(ot154.Event{Kind: ot154.EvRxComplete, Len: len(frame)})
}

func (d *Device) post(ev ot154.Event) {
	if d.q != nil && !d.q.Post(ev) {
		d.air.log("event queue full, %v dropped", ev.Kind)
	}
}

//===== test hooks

// SetTxOutcome selects which completion event the next Sends will post. Frames are
// only put on the air for the two success outcomes.
func (d *Device) SetTxOutcome(kind ot154.EventKind) {
	d.mu.Lock()
	d.txOutcome = kind
	d.mu.Unlock()
}

// FailNextRecv makes the next payload read fail after the length was reported.
func (d *Device) FailNextRecv(err error) {
	d.mu.Lock()
	d.recvErr = err
	d.mu.Unlock()
}

// Raw returns the raw bytes the device holds for a property, exactly as Set wrote
// them.
func (d *Device) Raw(opt ot154.Option) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.props[opt]...)
}

// LastSent returns the frame most recently passed to Send.
func (d *Device) LastSent() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.lastTx...)
}

// RxDropped returns the number of frames dropped due to rx overflow.
func (d *Device) RxDropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rxDropped
}
