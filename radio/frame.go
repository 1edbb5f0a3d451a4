// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package radio

import "fmt"

// MaxFrameSize is the largest PSDU a 802.15.4 PHY can carry (aMaxPHYPacketSize).
// A driver reporting a longer pending frame is lying and gets an abort instead of a
// buffer overrun.
const MaxFrameSize = 127

// Frame is a frame buffer plus the metadata that travels with it. The radio owns two
// of them: the outbound frame the stack fills before Transmit, and the inbound frame
// the receive handler fills and hands to the stack by reference.
type Frame struct {
	Psdu    []byte // frame bytes, allocated once at MaxFrameSize
	Len     int    // number of valid bytes in Psdu
	Channel uint8  // channel to transmit on / the frame was received on
	Power   int8   // tx power in dBm / signal power on receive
}

// Payload returns the valid portion of the frame buffer.
func (f *Frame) Payload() []byte { return f.Psdu[:f.Len] }

// SetPayload copies b into the frame buffer and updates the length.
func (f *Frame) SetPayload(b []byte) error {
	if len(b) > len(f.Psdu) {
		return fmt.Errorf("radio: payload of %d bytes exceeds max frame size %d",
			len(b), len(f.Psdu))
	}
	f.Len = copy(f.Psdu, b)
	return nil
}
