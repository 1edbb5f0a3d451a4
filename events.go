// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package ot154

// EventKind enumerates the asynchronous events that can be posted into a Queue. The
// set is closed: the dispatch loop switches over it and anything else is dropped as
// spurious.
type EventKind uint8

const (
	EvAlarm                 EventKind = iota // millisecond alarm fired
	EvRxComplete                             // driver received a frame
	EvTxComplete                             // transmit done, acked if ack was requested
	EvTxCompleteDataPending                  // transmit done, peer has pending data
	EvTxNoAck                                // transmit done, no ack received
	EvTxMediumBusy                           // transmit failed channel access
	EvWake                                   // no-op, wakes the loop to drain tasklets
)

func (k EventKind) String() string {
	names := [...]string{"alarm", "rx-complete", "tx-complete", "tx-complete-pending",
		"tx-noack", "tx-medium-busy", "wake"}
	if int(k) >= len(names) {
		return "event?"
	}
	return names[k]
}

// Event is a notification from a producer context (driver interrupt goroutine, timer
// callback) to the dispatch loop. Len is only meaningful for EvRxComplete and may be
// zero, in which case the handler asks the driver for the pending frame length.
type Event struct {
	Kind EventKind
	Len  int // received frame length for EvRxComplete, 0 if unknown
}
