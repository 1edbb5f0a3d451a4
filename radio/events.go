// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package radio

import "github.com/tve/ot154"

// HandleEvent dispatches a driver completion event to the matching handler. It runs
// in the dispatch loop goroutine like everything else that mutates the radio; the
// receive path in particular is not reentrant with itself.
func (r *Radio) HandleEvent(ev ot154.Event) {
	switch ev.Kind {
	case ot154.EvRxComplete:
		r.rxDone(ev)
	case ot154.EvTxComplete, ot154.EvTxCompleteDataPending, ot154.EvTxNoAck,
		ot154.EvTxMediumBusy:
		r.txDone(ev.Kind)
	case ot154.EvAlarm, ot154.EvWake:
		// belong to the dispatch loop, nothing to do here
	default:
		r.log("spurious event %v", ev.Kind)
	}
}

// rxDone handles a frame-received event: read the frame length, sanity check it,
// pull the payload into the inbound buffer and report up. Any failure turns into an
// abort upcall with a nil frame.
func (r *Radio) rxDone(ev ot154.Event) {
	n := ev.Len
	if n == 0 {
		var err error
		if n, err = r.dev.Recv(nil); err != nil {
			r.handler.OnReceiveDone(nil, ot154.ErrAbort)
			return
		}
	}
	// An oversized length must never reach the buffer read below.
	if n <= 0 || n > MaxFrameSize {
		r.log("rx length %d out of range", n)
		r.handler.OnReceiveDone(nil, ot154.ErrAbort)
		return
	}
	f := &r.rxFrame
	f.Len = n
	if p, err := r.Power(); err == nil {
		f.Power = int8(p)
	}
	if m, err := r.dev.Recv(f.Psdu[:n]); err != nil || m <= 0 {
		r.handler.OnReceiveDone(nil, ot154.ErrAbort)
		return
	}
	r.handler.OnReceiveDone(f, nil)
}

// txDone maps the driver's completion kind onto the result the stack sees. The state
// returns to Receive for all four outcomes, failed transmissions included.
func (r *Radio) txDone(kind ot154.EventKind) {
	r.state = StateReceive
	pending := false
	var err error
	switch kind {
	case ot154.EvTxCompleteDataPending:
		pending = true
	case ot154.EvTxNoAck:
		err = ot154.ErrNoAck
	case ot154.EvTxMediumBusy:
		err = ot154.ErrChannelAccess
	}
	r.handler.OnTransmitDone(&r.txFrame, pending, err)
}
