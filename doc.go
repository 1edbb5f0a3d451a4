// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// Package ot154 drives a single IEEE 802.15.4 transceiver on behalf of a link-layer
// protocol stack. The stack issues asynchronous commands (enable, sleep, receive on a
// channel, transmit) and gets completion upcalls (receive-done, transmit-done, alarm
// fired) delivered from a single dispatch goroutine.
//
// The root package holds the contracts shared by all the pieces: the netdev Driver
// interface that radio chips are accessed through, the bounded event queue that driver
// interrupts and timer fires are posted into, and minimal SPI/GPIO shims over periph
// so the drivers can be unit tested with fakes. The radio state machine lives in the
// radio package, the millisecond alarm in alarm, and the dispatch loop in loop. Real
// and simulated netdev drivers are in at86rf233, serialdev and simdev. Simple commands
// to exercise a radio can be found in the cmd directory tree.
package ot154
