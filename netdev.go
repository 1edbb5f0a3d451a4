// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package ot154

import "errors"

// Driver is the capability interface all netdev radio drivers implement. Configuration
// happens through named properties that are read and written as raw little-endian byte
// buffers of a fixed per-property size, which keeps the interface identical across SPI
// attached chips, serial co-processors and simulated devices. The endianness transforms
// the link layer needs (see the radio package) happen above this interface, drivers
// pass the bytes through untouched.
//
// Drivers deliver completion notifications (frame received, transmit done) by posting
// events into a Queue, they never invoke the consumer directly.
type Driver interface {
	// Get reads property opt into buf, which must be Size(opt) bytes long.
	Get(opt Option, buf []byte) error
	// Set writes property opt from buf, which must be Size(opt) bytes long.
	Set(opt Option, buf []byte) error
	// Send transmits the concatenation of bufs as one frame. Completion is reported
	// asynchronously with one of the EvTx* events.
	Send(bufs ...[]byte) error
	// Recv reads the pending received frame into buf and returns its length. A nil
	// buf returns the length of the pending frame without consuming it.
	Recv(buf []byte) (int, error)
}

// Option names a netdev property.
type Option uint8

const (
	OptChannel     Option = iota // 802.15.4 channel, uint16
	OptTxPower                   // transmit power in dBm, int16
	OptPanID                     // PAN identifier, uint16
	OptShortAddr                 // short hardware address, uint16
	OptLongAddr                  // extended hardware address, 8 bytes
	OptPromiscuous               // promiscuous mode, 1 byte 0/1
	OptState                     // device state, 1 byte DevState
)

// optSizes has the buffer size in bytes for each property.
var optSizes = [...]int{2, 2, 2, 2, 8, 1, 1}

// Size returns the buffer size in bytes for property o.
func (o Option) Size() int { return optSizes[o] }

func (o Option) String() string {
	names := [...]string{"channel", "txpower", "panid", "addr", "longaddr", "promisc", "state"}
	if int(o) >= len(names) {
		return "option?"
	}
	return names[o]
}

// DevState is the raw operating state of a netdev device. It is what travels through
// the OptState property; the radio package maintains its own lifecycle state on top.
type DevState uint8

const (
	DevOff   DevState = iota // powered down
	DevSleep                 // clock stopped, configuration retained
	DevIdle                  // listening, ready to receive
	DevRx                    // frame reception in progress
	DevTx                    // frame transmission in progress
)

func (s DevState) String() string {
	names := [...]string{"off", "sleep", "idle", "rx", "tx"}
	if int(s) >= len(names) {
		return "state?"
	}
	return names[s]
}

// Errors shared across the packages. ErrBusy is returned synchronously when a command's
// state precondition fails, the others surface asynchronously in completion upcalls.
var (
	ErrBusy          = errors.New("device busy")
	ErrAbort         = errors.New("data transfer aborted")
	ErrNoAck         = errors.New("no ack received")
	ErrChannelAccess = errors.New("channel access failure")
)

// LogPrintf is a function used by the packages in this module to print logging info.
type LogPrintf func(format string, v ...interface{})
