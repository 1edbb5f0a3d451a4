// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The ieee154 package decodes and encodes IEEE 802.15.4 MAC headers. It handles the
// 2006-revision frame control field with short and extended addressing and intra-PAN
// compression, which covers everything Thread/6LoWPAN traffic puts on the air. The
// MAC footer (FCS) is left to the radio hardware and is not part of the codec.
package ieee154

import (
	"encoding/binary"
	"fmt"
)

// Frame types from the frame control field.
const (
	TypeBeacon = 0
	TypeData   = 1
	TypeAck    = 2
	TypeCmd    = 3
)

// Addressing modes for the source and destination fields.
const (
	AddrNone  = 0
	AddrShort = 2 // 16-bit address plus PAN id
	AddrExt   = 3 // 64-bit EUI plus PAN id
)

// frame control field bits
const (
	fcfTypeMask    = 0x0007
	fcfSecurity    = 0x0008
	fcfPending     = 0x0010
	fcfAckRequest  = 0x0020
	fcfPanCompress = 0x0040
	fcfDstModeOff  = 10
	fcfVersionOff  = 12
	fcfSrcModeOff  = 14
	fcfModeMask    = 0x3
)

// Header holds the decoded MAC header of a frame. Address fields are only valid for
// the addressing mode in effect; extended addresses are in transmission order, i.e.
// little-endian, reversed from their display order.
type Header struct {
	Type        int
	Security    bool
	Pending     bool
	AckRequest  bool
	PanCompress bool
	Version     int
	Seq         uint8
	DstPan      uint16
	DstMode     int
	DstShort    uint16
	DstExt      [8]byte
	SrcPan      uint16
	SrcMode     int
	SrcShort    uint16
	SrcExt      [8]byte
}

// Decode parses the MAC header at the start of psdu and returns it together with
// the offset of the MAC payload. The FCS, if present, is not verified and counts as
// payload as far as the offset is concerned.
func Decode(psdu []byte) (*Header, int, error) {
	if len(psdu) < 3 {
		return nil, 0, fmt.Errorf("ieee154: frame of %d bytes too short for a header", len(psdu))
	}
	fcf := binary.LittleEndian.Uint16(psdu[0:2])
	h := &Header{
		Type:        int(fcf & fcfTypeMask),
		Security:    fcf&fcfSecurity != 0,
		Pending:     fcf&fcfPending != 0,
		AckRequest:  fcf&fcfAckRequest != 0,
		PanCompress: fcf&fcfPanCompress != 0,
		DstMode:     int(fcf >> fcfDstModeOff & fcfModeMask),
		Version:     int(fcf >> fcfVersionOff & fcfModeMask),
		SrcMode:     int(fcf >> fcfSrcModeOff & fcfModeMask),
		Seq:         psdu[2],
	}
	off := 3
	var err error
	if h.DstMode != AddrNone {
		if h.DstPan, err = get16(psdu, &off); err != nil {
			return nil, 0, err
		}
	}
	switch h.DstMode {
	case AddrNone:
	case AddrShort:
		if h.DstShort, err = get16(psdu, &off); err != nil {
			return nil, 0, err
		}
	case AddrExt:
		if err = get64(psdu, &off, &h.DstExt); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("ieee154: reserved destination addressing mode")
	}
	// With PAN id compression the source PAN equals the destination PAN and is
	// omitted from the wire.
	if h.SrcMode != AddrNone {
		if h.PanCompress {
			h.SrcPan = h.DstPan
		} else if h.SrcPan, err = get16(psdu, &off); err != nil {
			return nil, 0, err
		}
	}
	switch h.SrcMode {
	case AddrNone:
	case AddrShort:
		if h.SrcShort, err = get16(psdu, &off); err != nil {
			return nil, 0, err
		}
	case AddrExt:
		if err = get64(psdu, &off, &h.SrcExt); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, fmt.Errorf("ieee154: reserved source addressing mode")
	}
	return h, off, nil
}

// Encode appends the wire form of the header to buf and returns the result. The
// frame control field is derived from the header's fields; the caller appends the
// MAC payload.
func (h *Header) Encode(buf []byte) []byte {
	fcf := uint16(h.Type) & fcfTypeMask
	if h.Security {
		fcf |= fcfSecurity
	}
	if h.Pending {
		fcf |= fcfPending
	}
	if h.AckRequest {
		fcf |= fcfAckRequest
	}
	if h.PanCompress {
		fcf |= fcfPanCompress
	}
	fcf |= uint16(h.DstMode&fcfModeMask) << fcfDstModeOff
	fcf |= uint16(h.Version&fcfModeMask) << fcfVersionOff
	fcf |= uint16(h.SrcMode&fcfModeMask) << fcfSrcModeOff
	buf = append(buf, byte(fcf), byte(fcf>>8), h.Seq)
	if h.DstMode != AddrNone {
		buf = append(buf, byte(h.DstPan), byte(h.DstPan>>8))
	}
	switch h.DstMode {
	case AddrShort:
		buf = append(buf, byte(h.DstShort), byte(h.DstShort>>8))
	case AddrExt:
		buf = append(buf, h.DstExt[:]...)
	}
	if h.SrcMode != AddrNone && !h.PanCompress {
		buf = append(buf, byte(h.SrcPan), byte(h.SrcPan>>8))
	}
	switch h.SrcMode {
	case AddrShort:
		buf = append(buf, byte(h.SrcShort), byte(h.SrcShort>>8))
	case AddrExt:
		buf = append(buf, h.SrcExt[:]...)
	}
	return buf
}

// IsAckFor tells whether the header is an acknowledgment matching sequence number
// seq.
func (h *Header) IsAckFor(seq uint8) bool {
	return h.Type == TypeAck && h.Seq == seq
}

func get16(buf []byte, off *int) (uint16, error) {
	if *off+2 > len(buf) {
		return 0, fmt.Errorf("ieee154: frame truncated in header at offset %d", *off)
	}
	v := binary.LittleEndian.Uint16(buf[*off:])
	*off += 2
	return v, nil
}

func get64(buf []byte, off *int, dst *[8]byte) error {
	if *off+8 > len(buf) {
		return fmt.Errorf("ieee154: frame truncated in header at offset %d", *off)
	}
	copy(dst[:], buf[*off:])
	*off += 8
	return nil
}
