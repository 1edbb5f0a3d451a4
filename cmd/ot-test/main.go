// Copyright 2018 by Thorsten von Eicken, see LICENSE file for details

// ot-test exercises the radio state machine end-to-end over the simulated air: it
// brings up two stations, transmits a number of data frames from one to the other
// and prints what arrives. Useful as a smoke test and as a usage example for the
// dispatch loop.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/tve/ot154"
	"github.com/tve/ot154/alarm"
	"github.com/tve/ot154/ieee154"
	"github.com/tve/ot154/loop"
	"github.com/tve/ot154/radio"
	"github.com/tve/ot154/simdev"
)

func panicIf(err error) {
	if err != nil {
		panic(err)
	}
}

// station is one radio with its own queue, dispatch loop and alarm.
type station struct {
	*loop.TaskQueue
	name  string
	radio *radio.Radio
	alarm *alarm.Alarm
	rx    chan []byte
	tx    chan error
}

func (s *station) AlarmFired() {}

func (s *station) OnReceiveDone(f *radio.Frame, err error) {
	if err != nil {
		log.Printf("%s: receive aborted: %s", s.name, err)
		return
	}
	s.rx <- append([]byte(nil), f.Payload()...)
}

func (s *station) OnTransmitDone(f *radio.Frame, pending bool, err error) {
	s.tx <- err
}

func newStation(air *simdev.Air, name string, channel uint8, debug ot154.LogPrintf) *station {
	q := ot154.NewQueue(0)
	dev := air.NewDevice(q)
	s := &station{
		TaskQueue: loop.NewTaskQueue(q),
		name:      name,
		alarm:     alarm.New(q, alarm.Opts{Logger: debug}),
		rx:        make(chan []byte, 8),
		tx:        make(chan error, 1),
	}
	r, err := radio.New(dev, radio.Opts{Handler: s, Logger: debug})
	panicIf(err)
	s.radio = r
	panicIf(r.Enable())
	panicIf(r.Receive(channel))
	go loop.New(q, r, s, loop.Opts{Logger: debug}).Run()
	return s
}

func main() {
	n := flag.Int("n", 10, "number of packets to send")
	channel := flag.Uint("channel", 11, "802.15.4 channel (11..26)")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	var debugLog ot154.LogPrintf
	if *debug {
		debugLog = log.Printf
	}

	air := simdev.NewAir(debugLog)
	rxer := newStation(air, "rx", uint8(*channel), debugLog)
	txer := newStation(air, "tx", uint8(*channel), debugLog)

	// Receiver side: print whatever comes in.
	got := make(chan struct{})
	go func() {
		for i := 0; i < *n; i++ {
			psdu := <-rxer.rx
			h, off, err := ieee154.Decode(psdu)
			if err != nil {
				log.Printf("rx: undecodable frame len=%d: %s", len(psdu), err)
				continue
			}
			log.Printf("rx: seq=%d len=%d %q", h.Seq, len(psdu), psdu[off:])
		}
		close(got)
	}()

	log.Printf("Sending %d packets on channel %d ...", *n, *channel)
	for i := 0; i < *n; i++ {
		hdr := ieee154.Header{
			Type: ieee154.TypeData, PanCompress: true, Version: 1, Seq: uint8(i),
			DstPan: 0xface, DstMode: ieee154.AddrShort, DstShort: 0x0001,
			SrcMode: ieee154.AddrShort, SrcShort: 0x0002,
		}
		payload := []byte("hello 802.15.4")
		t0 := time.Now()
		// The radio may only be driven from its loop goroutine.
		txer.Post(func() {
			f := txer.radio.TransmitBuffer()
			panicIf(f.SetPayload(append(hdr.Encode(nil), payload...)))
			f.Channel = uint8(*channel)
			panicIf(txer.radio.Transmit())
		})
		if err := <-txer.tx; err != nil {
			log.Printf("tx %d failed: %s", i, err)
		} else {
			log.Printf("tx %d sent in %.1fms", i, time.Since(t0).Seconds()*1000)
		}
	}

	select {
	case <-got:
		log.Printf("All %d packets made it across", *n)
	case <-time.After(2 * time.Second):
		log.Printf("Timed out waiting for the receiver, %d events dropped?", *n)
	}
	log.Printf("Bye...")
}
