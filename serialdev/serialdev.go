// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// The serialdev package drives an 802.15.4 transceiver that sits behind a serial
// port, such as a coprocessor module speaking a simple framed command protocol over
// UART. Each direction carries frames of the form
//
//	[cmd] [len] [payload...] [ck]
//
// where len counts the payload bytes and ck is the xor of all preceding bytes.
// Commands from the host (get, set, send) are answered synchronously with an ok,
// error or data response; received radio frames and transmit completions arrive as
// unsolicited event frames at any time and are posted into the event queue.
package serialdev

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/tve/ot154"
)

// host to module commands
const (
	cmdGet  = 0x01 // payload: option; response: rspData with the value
	cmdSet  = 0x02 // payload: option, value; response: rspOk
	cmdSend = 0x03 // payload: frame psdu; response: rspOk, completion by event
)

// module to host responses and events
const (
	rspOk     = 0x80
	rspErr    = 0x81 // payload: one status byte
	rspData   = 0x82
	evtRx     = 0x90 // payload: received psdu
	evtTxDone = 0x91 // payload: one outcome byte
)

// transmit outcome codes carried by evtTxDone
const (
	txOk = iota
	txOkPending
	txNoAck
	txMediumBusy
)

const maxPayload = 255
const respTimeout = 2 * time.Second

// rxPendCap bounds frames buffered between evtRx and Recv, mirroring the small rx
// FIFO of a hardware transceiver.
const rxPendCap = 4

// Opts contains options used when initializing a serial device.
type Opts struct {
	Baud   int             // serial baud rate, default 115200
	Logger ot154.LogPrintf // function to use for logging
}

// Device implements the radio driver contract over a serial link.
type Device struct {
	port io.ReadWriteCloser
	q    *ot154.Queue
	log  ot154.LogPrintf

	reqMu sync.Mutex // one outstanding request at a time
	resp  chan frame

	rxMu      sync.Mutex
	rxPend    [][]byte
	rxDropped int
}

type frame struct {
	cmd     byte
	payload []byte
}

// New opens the named serial port and returns a device posting its events into q.
func New(name string, q *ot154.Queue, opts Opts) (*Device, error) {
	baud := opts.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("serialdev: %s", err)
	}
	return NewWith(port, q, opts), nil
}

// NewWith wraps an already-open bidirectional stream, which is how tests run the
// protocol over an in-memory pipe.
func NewWith(port io.ReadWriteCloser, q *ot154.Queue, opts Opts) *Device {
	d := &Device{
		port: port,
		q:    q,
		resp: make(chan frame, 1),
		log:  func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		d.log = func(format string, v ...interface{}) {
			opts.Logger("serialdev: "+format, v...)
		}
	}
	go d.reader()
	return d
}

// Close closes the underlying port, which also terminates the reader goroutine.
func (d *Device) Close() error { return d.port.Close() }

// Get reads a named property into buf, which must have the property's exact size.
func (d *Device) Get(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("serialdev: %v wants %d bytes, got %d", opt, opt.Size(), len(buf))
	}
	f, err := d.request(cmdGet, []byte{byte(opt)})
	if err != nil {
		return err
	}
	if f.cmd != rspData || len(f.payload) != opt.Size() {
		return fmt.Errorf("serialdev: bad response %#x/%d to get of %v", f.cmd, len(f.payload), opt)
	}
	copy(buf, f.payload)
	return nil
}

// Set writes a named property from buf, which must have the property's exact size.
func (d *Device) Set(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("serialdev: %v wants %d bytes, got %d", opt, opt.Size(), len(buf))
	}
	f, err := d.request(cmdSet, append([]byte{byte(opt)}, buf...))
	if err != nil {
		return err
	}
	if f.cmd != rspOk {
		return fmt.Errorf("serialdev: set of %v rejected (%#x)", opt, f.cmd)
	}
	return nil
}

// Send hands the concatenation of bufs to the module for transmission. The ok
// response only acknowledges the hand-off; the transmit outcome arrives later as an
// event.
func (d *Device) Send(bufs ...[]byte) error {
	var psdu []byte
	for _, b := range bufs {
		psdu = append(psdu, b...)
	}
	if len(psdu) > maxPayload {
		return fmt.Errorf("serialdev: frame of %d bytes exceeds protocol limit", len(psdu))
	}
	f, err := d.request(cmdSend, psdu)
	if err != nil {
		return err
	}
	if f.cmd != rspOk {
		return fmt.Errorf("serialdev: send rejected (%#x)", f.cmd)
	}
	return nil
}

// Recv pops the oldest pending received frame into buf; a nil buf returns its
// length without consuming it.
func (d *Device) Recv(buf []byte) (int, error) {
	d.rxMu.Lock()
	defer d.rxMu.Unlock()
	if len(d.rxPend) == 0 {
		return 0, fmt.Errorf("serialdev: no frame pending")
	}
	if buf == nil {
		return len(d.rxPend[0]), nil
	}
	n := copy(buf, d.rxPend[0])
	d.rxPend = d.rxPend[1:]
	return n, nil
}

// request writes one command frame and waits for the synchronous response. Error
// responses from the module are turned into errors here.
func (d *Device) request(cmd byte, payload []byte) (frame, error) {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	if err := d.write(cmd, payload); err != nil {
		return frame{}, err
	}
	select {
	case f := <-d.resp:
		if f.cmd == rspErr {
			status := byte(0xff)
			if len(f.payload) > 0 {
				status = f.payload[0]
			}
			return frame{}, fmt.Errorf("serialdev: command %#x failed, status %#x", cmd, status)
		}
		return f, nil
	case <-time.After(respTimeout):
		return frame{}, fmt.Errorf("serialdev: no response to command %#x", cmd)
	}
}

func (d *Device) write(cmd byte, payload []byte) error {
	buf := make([]byte, 0, len(payload)+3)
	buf = append(buf, cmd, byte(len(payload)))
	buf = append(buf, payload...)
	ck := byte(0)
	for _, b := range buf {
		ck ^= b
	}
	buf = append(buf, ck)
	if _, err := d.port.Write(buf); err != nil {
		return fmt.Errorf("serialdev: write: %s", err)
	}
	return nil
}

// reader parses frames off the port until it fails, typically due to Close.
// Responses go to the waiting request, events get posted into the queue.
func (d *Device) reader() {
	hdr := make([]byte, 2)
	for {
		if _, err := io.ReadFull(d.port, hdr); err != nil {
			d.log("reader exiting: %s", err)
			return
		}
		body := make([]byte, int(hdr[1])+1)
		if _, err := io.ReadFull(d.port, body); err != nil {
			d.log("reader exiting: %s", err)
			return
		}
		ck := hdr[0] ^ hdr[1]
		for _, b := range body[:len(body)-1] {
			ck ^= b
		}
		if ck != body[len(body)-1] {
			// A checksum error means we may be out of sync, drop the frame and
			// resynchronize on the next header.
			d.log("checksum mismatch on frame %#x, dropping", hdr[0])
			continue
		}
		f := frame{cmd: hdr[0], payload: body[:len(body)-1]}
		switch f.cmd {
		case rspOk, rspErr, rspData:
			select {
			case d.resp <- f:
			default:
				d.log("unsolicited response %#x dropped", f.cmd)
			}
		case evtRx:
			d.handleRx(f.payload)
		case evtTxDone:
			d.handleTxDone(f.payload)
		default:
			d.log("unknown frame %#x dropped", f.cmd)
		}
	}
}

func (d *Device) handleRx(psdu []byte) {
	d.rxMu.Lock()
	if len(d.rxPend) >= rxPendCap {
		d.rxDropped++
		d.rxMu.Unlock()
		d.log("rx frame dropped, %d pending", rxPendCap)
		return
	}
	d.rxPend = append(d.rxPend, append([]byte(nil), psdu...))
	d.rxMu.Unlock()
	d.post(ot154.Event{Kind: ot154.EvRxComplete, Len: len(psdu)})
}

func (d *Device) handleTxDone(payload []byte) {
	code := byte(txOk)
	if len(payload) > 0 {
		code = payload[0]
	}
	kind := ot154.EvTxComplete
	switch code {
	case txOkPending:
		kind = ot154.EvTxCompleteDataPending
	case txNoAck:
		kind = ot154.EvTxNoAck
	case txMediumBusy:
		kind = ot154.EvTxMediumBusy
	}
	d.post(ot154.Event{Kind: kind})
}

func (d *Device) post(ev ot154.Event) {
	if d.q == nil {
		return
	}
	if !d.q.Post(ev) {
		d.log("event %v dropped, queue full", ev.Kind)
	}
}
