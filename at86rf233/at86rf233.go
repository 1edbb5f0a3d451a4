// Copyright 2018 by Thorsten von Eicken, see LICENSE file

// The at86rf233 package interfaces with an Atmel AT86RF233 2.4GHz 802.15.4
// transceiver connected to an SPI bus, such as Microchip's AT86RF233 radio extension
// board. It implements the driver contract of the ot154 package: named properties
// map onto chip registers, transmission uses the chip's extended operating mode with
// hardware CSMA, retries and auto-ack, and completions arrive as events in the
// event queue.
//
// The driver is fully interrupt driven and requires that the radio's IRQ pin be
// connected to an interrupt capable GPIO pin. A worker goroutine turns the pin's
// edges into queue events; it reads the frame buffer for receptions and the
// transaction status for transmit completions, so by the time the dispatch loop gets
// the event the chip is already back in receive.
//
// The property accessors are meant to be called from the dispatch loop goroutine
// only. SPI transactions are serialized internally because the worker accesses the
// chip concurrently with them.
package at86rf233

import (
	"fmt"
	"sync"
	"time"

	"github.com/tve/ot154"
)

const maxFrame = 127 // aMaxPHYPacketSize, including the 2-byte FCS
const rxPendCap = 4  // queue up to 4 received frames before dropping

// Opts contains options used when initializing a Device.
type Opts struct {
	Slp    ot154.GPIO      // SLP_TR pin, optional, enables true chip sleep
	Logger ot154.LogPrintf // function to use for logging
}

// Device represents an AT86RF233 radio.
type Device struct {
	spi     ot154.SPI
	intrPin ot154.GPIO
	slpPin  ot154.GPIO
	q       *ot154.Queue
	log     ot154.LogPrintf
	intrCnt int

	sync.Mutex      // serializes SPI transactions and the tx/off flags
	txBusy     bool // a transmission is in flight
	off        bool // distinguishes DevOff from DevSleep, both are TRX_OFF
	closed     bool

	rxMu      sync.Mutex
	rxPend    [][]byte
	rxDropped int
}

// New initializes an AT86RF233 given an SPI connection and an interrupt pin, leaving
// the chip in TRX_OFF. Events are posted into q.
//
// The SPI bus must be set to 8Mhz max and mode 0.
func New(dev ot154.SPI, intr ot154.GPIO, q *ot154.Queue, opts Opts) (*Device, error) {
	d := &Device{
		spi:     dev,
		intrPin: intr,
		slpPin:  opts.Slp,
		q:       q,
		log:     func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		d.log = func(format string, v ...interface{}) {
			opts.Logger("at86rf233: "+format, v...)
		}
	}

	if err := dev.Speed(7500 * 1000); err != nil {
		return nil, fmt.Errorf("at86rf233: cannot set speed, %v", err)
	}
	if err := dev.Configure(ot154.SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("at86rf233: cannot set mode, %v", err)
	}

	// Try to synchronize communication with the chip, the part number register is
	// read-only and makes a good probe.
	ok := false
	for n := 10; n > 0; n-- {
		if d.readReg(REG_PART_NUM) == PART_AT86RF233 {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("at86rf233: cannot sync with chip, part number %#x read back",
			d.readReg(REG_PART_NUM))
	}
	d.log("AT86RF233 version %#x", d.readReg(REG_VERSION_NUM))

	if d.slpPin != nil {
		d.slpPin.Out(ot154.GpioLow)
	}
	d.writeReg(REG_TRX_STATE, CMD_FORCE_TRX_OFF)
	if err := d.waitStatus(STATUS_TRX_OFF); err != nil {
		return nil, err
	}

	// Write the configuration into the registers.
	for i := 0; i < len(configRegs)-1; i += 2 {
		d.writeReg(configRegs[i], configRegs[i+1])
	}
	d.readReg(REG_IRQ_STATUS) // reading clears pending interrupts

	// Initialize interrupt pin.
	if err := d.intrPin.In(ot154.GpioRisingEdge); err != nil {
		return nil, fmt.Errorf("at86rf233: error initializing interrupt pin: %s", err)
	}
	for d.intrPin.WaitForEdge(0) {
		d.log("stale edge on interrupt pin gpio%d", d.intrPin.Number())
	}
	go d.worker()

	return d, nil
}

// Close shuts the chip down and terminates the worker goroutine.
func (d *Device) Close() error {
	d.Lock()
	d.closed = true
	d.Unlock()
	d.writeReg(REG_TRX_STATE, CMD_FORCE_TRX_OFF)
	d.intrPin.In(ot154.GpioNoEdge)
	return d.spi.Close()
}

// Get reads a named property into buf, which must have the property's exact size.
func (d *Device) Get(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("at86rf233: %v wants %d bytes, got %d", opt, opt.Size(), len(buf))
	}
	switch opt {
	case ot154.OptChannel:
		buf[0] = d.readReg(REG_PHY_CC_CCA) & CHANNEL_MASK
		buf[1] = 0
	case ot154.OptTxPower:
		code := d.readReg(REG_PHY_TX_PWR) & 0x0F
		buf[0], buf[1] = 0, 0
		for _, p := range txPowers {
			if p.code == code {
				buf[0] = byte(p.dbm)
				if p.dbm < 0 {
					buf[1] = 0xff
				}
				break
			}
		}
	case ot154.OptPanID:
		buf[0] = d.readReg(REG_PAN_ID_0)
		buf[1] = d.readReg(REG_PAN_ID_1)
	case ot154.OptShortAddr:
		buf[0] = d.readReg(REG_SHORT_ADDR_0)
		buf[1] = d.readReg(REG_SHORT_ADDR_1)
	case ot154.OptLongAddr:
		for i := range buf {
			buf[i] = d.readReg(REG_IEEE_ADDR_0 + byte(i))
		}
	case ot154.OptPromiscuous:
		buf[0] = 0
		if d.readReg(REG_XAH_CTRL_1)&AACK_PROM_MODE != 0 {
			buf[0] = 1
		}
	case ot154.OptState:
		buf[0] = byte(d.devState())
	default:
		return fmt.Errorf("at86rf233: unknown property %v", opt)
	}
	return nil
}

// Set writes a named property from buf, which must have the property's exact size.
func (d *Device) Set(opt ot154.Option, buf []byte) error {
	if len(buf) != opt.Size() {
		return fmt.Errorf("at86rf233: %v wants %d bytes, got %d", opt, opt.Size(), len(buf))
	}
	switch opt {
	case ot154.OptChannel:
		ch := buf[0]
		if ch < 11 || ch > 26 {
			return fmt.Errorf("at86rf233: channel %d out of range 11..26", ch)
		}
		d.writeReg(REG_PHY_CC_CCA, d.readReg(REG_PHY_CC_CCA)&^byte(CHANNEL_MASK)|ch)
	case ot154.OptTxPower:
		dbm := int8(buf[0])
		code := txPowers[len(txPowers)-1].code
		for _, p := range txPowers {
			if dbm >= p.dbm {
				code = p.code
				break
			}
		}
		d.writeReg(REG_PHY_TX_PWR, code)
	case ot154.OptPanID:
		d.writeReg(REG_PAN_ID_0, buf[0])
		d.writeReg(REG_PAN_ID_1, buf[1])
	case ot154.OptShortAddr:
		d.writeReg(REG_SHORT_ADDR_0, buf[0])
		d.writeReg(REG_SHORT_ADDR_1, buf[1])
	case ot154.OptLongAddr:
		for i, b := range buf {
			d.writeReg(REG_IEEE_ADDR_0+byte(i), b)
		}
	case ot154.OptPromiscuous:
		v := d.readReg(REG_XAH_CTRL_1) &^ byte(AACK_PROM_MODE)
		if buf[0] != 0 {
			v |= AACK_PROM_MODE
		}
		d.writeReg(REG_XAH_CTRL_1, v)
	case ot154.OptState:
		return d.setState(ot154.DevState(buf[0]))
	default:
		return fmt.Errorf("at86rf233: unknown property %v", opt)
	}
	return nil
}

// Send transmits the concatenation of bufs using the chip's CSMA and retry engine.
// The completion arrives later as an event carrying the transaction outcome.
func (d *Device) Send(bufs ...[]byte) error {
	var psdu []byte
	for _, b := range bufs {
		psdu = append(psdu, b...)
	}
	// The chip appends the 2-byte FCS, which counts toward the PHR length.
	if len(psdu)+2 > maxFrame {
		return fmt.Errorf("at86rf233: frame of %d bytes too long", len(psdu))
	}
	if len(psdu) == 0 {
		return fmt.Errorf("at86rf233: empty frame")
	}
	d.writeReg(REG_TRX_STATE, CMD_TX_ARET_ON)
	if err := d.waitStatus(STATUS_TX_ARET_ON); err != nil {
		return err
	}
	wBuf := make([]byte, len(psdu)+2)
	wBuf[0] = SPI_FB_WRITE
	wBuf[1] = byte(len(psdu) + 2)
	copy(wBuf[2:], psdu)
	d.Lock()
	d.spi.Tx(wBuf, make([]byte, len(wBuf)))
	d.txBusy = true
	d.Unlock()
	d.writeReg(REG_TRX_STATE, CMD_TX_START)
	return nil
}

// Recv pops the oldest pending received frame into buf; a nil buf returns its length
// without consuming it.
func (d *Device) Recv(buf []byte) (int, error) {
	d.rxMu.Lock()
	defer d.rxMu.Unlock()
	if len(d.rxPend) == 0 {
		return 0, fmt.Errorf("at86rf233: no frame pending")
	}
	if buf == nil {
		return len(d.rxPend[0]), nil
	}
	n := copy(buf, d.rxPend[0])
	d.rxPend = d.rxPend[1:]
	return n, nil
}

// setState maps the abstract device states onto TRX_STATE commands. Off and sleep
// both take the transceiver to TRX_OFF; with a wired SLP_TR pin sleep additionally
// powers down the oscillator.
func (d *Device) setState(s ot154.DevState) error {
	if d.slpPin != nil {
		d.slpPin.Out(ot154.GpioLow)
	}
	switch s {
	case ot154.DevOff, ot154.DevSleep:
		d.writeReg(REG_TRX_STATE, CMD_FORCE_TRX_OFF)
		if err := d.waitStatus(STATUS_TRX_OFF); err != nil {
			return err
		}
		if s == ot154.DevSleep && d.slpPin != nil {
			d.slpPin.Out(ot154.GpioHigh)
		}
	case ot154.DevIdle, ot154.DevRx:
		d.writeReg(REG_TRX_STATE, CMD_RX_AACK_ON)
		if err := d.waitStatus(STATUS_RX_AACK_ON); err != nil {
			return err
		}
	case ot154.DevTx:
		d.writeReg(REG_TRX_STATE, CMD_TX_ARET_ON)
		if err := d.waitStatus(STATUS_TX_ARET_ON); err != nil {
			return err
		}
	default:
		return fmt.Errorf("at86rf233: unknown state %v", s)
	}
	d.Lock()
	d.off = s == ot154.DevOff
	d.Unlock()
	return nil
}

// devState maps the chip's TRX_STATUS back onto the abstract device states.
func (d *Device) devState() ot154.DevState {
	switch d.readReg(REG_TRX_STATUS) & STATUS_MASK {
	case STATUS_BUSY_RX, STATUS_BUSY_RX_ACK:
		return ot154.DevRx
	case STATUS_BUSY_TX, STATUS_BUSY_TX_ARET, STATUS_TX_ARET_ON:
		return ot154.DevTx
	case STATUS_RX_ON, STATUS_RX_AACK_ON:
		return ot154.DevIdle
	}
	d.Lock()
	defer d.Unlock()
	if d.off {
		return ot154.DevOff
	}
	return ot154.DevSleep
}

// waitStatus busy-waits until TRX_STATUS reaches the wanted state, state changes
// take a few µs on this chip.
func (d *Device) waitStatus(want byte) error {
	for start := time.Now(); time.Since(start) < 100*time.Millisecond; {
		if d.readReg(REG_TRX_STATUS)&STATUS_MASK == want {
			return nil
		}
	}
	return fmt.Errorf("at86rf233: timeout waiting for chip state %#x", want)
}

// worker is an endless loop turning interrupt pin edges into queue events.
func (d *Device) worker() {
	// Make sure we're not missing an initial edge due to a race condition.
	if d.intrPin.Read() == ot154.GpioHigh {
		d.handleIntr()
	}
	for {
		if d.intrPin.WaitForEdge(time.Second) {
			if d.intrPin.Read() == ot154.GpioHigh {
				d.handleIntr()
			}
		} else if d.intrPin.Read() == ot154.GpioHigh {
			// Sometimes WaitForEdge times out yet the interrupt pin is active,
			// this means the driver or epoll failed us.
			d.log("interrupt was missed!")
			d.handleIntr()
		} else {
			d.Lock()
			closed := d.closed
			d.Unlock()
			if closed {
				d.log("interrupt goroutine exiting")
				return
			}
		}
	}
}

// handleIntr services one interrupt: transmit completions report the transaction
// status, anything else with TRX_END set is a received frame.
func (d *Device) handleIntr() {
	d.intrCnt++
	irq := d.readReg(REG_IRQ_STATUS) // reading clears
	if irq&IRQ_TRX_END == 0 {
		if irq != 0 {
			d.log("spurious interrupt, irq=%#x", irq)
		}
		return
	}
	d.Lock()
	tx := d.txBusy
	d.txBusy = false
	d.Unlock()
	if tx {
		d.intrTransmit()
	} else {
		d.intrReceive()
	}
}

func (d *Device) intrTransmit() {
	trac := d.readReg(REG_TRX_STATE) >> 5
	// Back to listening before reporting, matching what the consumer assumes.
	d.writeReg(REG_TRX_STATE, CMD_RX_AACK_ON)
	kind := ot154.EvTxComplete
	switch trac {
	case TRAC_SUCCESS:
	case TRAC_SUCCESS_PENDING:
		kind = ot154.EvTxCompleteDataPending
	case TRAC_NO_ACK:
		kind = ot154.EvTxNoAck
	case TRAC_CHANNEL_FAIL:
		kind = ot154.EvTxMediumBusy
	default:
		d.log("unexpected transaction status %d", trac)
		kind = ot154.EvTxMediumBusy
	}
	d.post(ot154.Event{Kind: kind})
}

func (d *Device) intrReceive() {
	// Read the whole frame buffer in one transaction: command, PHR, up to 127 bytes
	// of PSDU, then LQI, ED and RX_STATUS.
	var wBuf, rBuf [2 + maxFrame + 3]byte
	wBuf[0] = SPI_FB_READ
	d.Lock()
	err := d.spi.Tx(wBuf[:], rBuf[:])
	d.Unlock()
	if err != nil {
		d.log("frame buffer read: %s", err)
		return
	}
	n := int(rBuf[1])
	if n < 2 || n > maxFrame {
		d.log("rx frame with bad length %d", n)
		return
	}
	psdu := append([]byte(nil), rBuf[2:2+n-2]...) // strip the FCS
	d.rxMu.Lock()
	if len(d.rxPend) >= rxPendCap {
		d.rxDropped++
		d.rxMu.Unlock()
		d.log("rx frame dropped, %d pending", rxPendCap)
		return
	}
	d.rxPend = append(d.rxPend, psdu)
	d.rxMu.Unlock()
	d.post(ot154.Event{Kind: ot154.EvRxComplete, Len: len(psdu)})
}

func (d *Device) post(ev ot154.Event) {
	if d.q == nil {
		return
	}
	if !d.q.Post(ev) {
		d.log("event %v dropped, queue full", ev.Kind)
	}
}

// writeReg writes one register.
func (d *Device) writeReg(addr, data byte) {
	d.Lock()
	defer d.Unlock()
	var rBuf [2]byte
	d.spi.Tx([]byte{addr | SPI_REG_WRITE, data}, rBuf[:])
}

// readReg reads one register and returns its value.
func (d *Device) readReg(addr byte) byte {
	d.Lock()
	defer d.Unlock()
	var buf [2]byte
	d.spi.Tx([]byte{addr | SPI_REG_READ, 0}, buf[:])
	return buf[1]
}
