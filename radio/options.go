// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// Typed accessors over the netdev property interface. Each accessor fixes the
// property name and buffer size and performs the byte-order transform the device
// layer expects: the device consumes its properties little-endian, while PAN id and
// short address arrive from the stack as network-order values and therefore get
// byte-swapped, and the extended address gets reversed byte-for-byte. Driver errors
// propagate unchanged, there are no retries at this layer.

package radio

import (
	"encoding/binary"

	"github.com/tve/ot154"
)

// Channel returns the channel the device is tuned to.
func (r *Radio) Channel() (uint16, error) {
	var buf [2]byte
	if err := r.dev.Get(ot154.OptChannel, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// SetChannel tunes the device to the given channel.
func (r *Radio) SetChannel(channel uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], channel)
	return r.dev.Set(ot154.OptChannel, buf[:])
}

// Power returns the transmit power in dBm.
func (r *Radio) Power() (int16, error) {
	var buf [2]byte
	if err := r.dev.Get(ot154.OptTxPower, buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(buf[:])), nil
}

// SetPower sets the transmit power in dBm.
func (r *Radio) SetPower(dbm int16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(dbm))
	return r.dev.Set(ot154.OptTxPower, buf[:])
}

// SetPanID sets the PAN identifier, byte-swapping the network-order value for the
// device layer.
func (r *Radio) SetPanID(pan uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], pan)
	return r.dev.Set(ot154.OptPanID, buf[:])
}

// PanID returns the PAN identifier, undoing the byte swap done by SetPanID.
func (r *Radio) PanID() (uint16, error) {
	var buf [2]byte
	if err := r.dev.Get(ot154.OptPanID, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// SetShortAddr sets the short hardware address, byte-swapped like the PAN id.
func (r *Radio) SetShortAddr(addr uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], addr)
	return r.dev.Set(ot154.OptShortAddr, buf[:])
}

// ShortAddr returns the short hardware address.
func (r *Radio) ShortAddr() (uint16, error) {
	var buf [2]byte
	if err := r.dev.Get(ot154.OptShortAddr, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// SetLongAddr sets the extended hardware address, reversed byte-for-byte relative to
// the network-order input.
func (r *Radio) SetLongAddr(addr [8]byte) error {
	var buf [8]byte
	for i := range addr {
		buf[i] = addr[len(addr)-1-i]
	}
	return r.dev.Set(ot154.OptLongAddr, buf[:])
}

// LongAddr returns the extended hardware address in network order.
func (r *Radio) LongAddr() ([8]byte, error) {
	var buf, addr [8]byte
	if err := r.dev.Get(ot154.OptLongAddr, buf[:]); err != nil {
		return addr, err
	}
	for i := range buf {
		addr[i] = buf[len(buf)-1-i]
	}
	return addr, nil
}

// SetPromiscuous enables or disables promiscuous reception.
func (r *Radio) SetPromiscuous(on bool) error {
	buf := [1]byte{0}
	if on {
		buf[0] = 1
	}
	return r.dev.Set(ot154.OptPromiscuous, buf[:])
}

// Promiscuous returns the promiscuous mode state.
func (r *Radio) Promiscuous() (bool, error) {
	var buf [1]byte
	if err := r.dev.Get(ot154.OptPromiscuous, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// DevState returns the raw device state.
func (r *Radio) DevState() (ot154.DevState, error) {
	var buf [1]byte
	if err := r.dev.Get(ot154.OptState, buf[:]); err != nil {
		return ot154.DevOff, err
	}
	return ot154.DevState(buf[0]), nil
}

func (r *Radio) setDevState(s ot154.DevState) error {
	buf := [1]byte{byte(s)}
	return r.dev.Set(ot154.OptState, buf[:])
}
