// Copyright 2018 by Thorsten von Eicken, see LICENSE file

package at86rf233

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/tve/ot154"
)

// fakeChip emulates the AT86RF233 SPI protocol and register file.
type fakeChip struct {
	mu     sync.Mutex
	regs   [0x40]byte
	status byte   // TRX_STATUS[4:0]
	trac   byte   // outcome of the next transmission
	txFB   []byte // frame buffer as written for tx
	rxFB   []byte // frame buffer as returned for rx
	sent   chan []byte
	pin    *fakePin
}

func newFakeChip() *fakeChip {
	c := &fakeChip{status: STATUS_P_ON, sent: make(chan []byte, 4),
		pin: &fakePin{edges: make(chan struct{}, 8)}}
	c.regs[REG_PART_NUM] = PART_AT86RF233
	c.regs[REG_VERSION_NUM] = 0x02
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch w[0] & 0xC0 {
	case SPI_REG_WRITE & 0xC0:
		for i, b := range w[1:] {
			c.write(w[0]&0x3F+byte(i), b)
		}
	case SPI_REG_READ & 0xC0:
		for i := 1; i < len(r); i++ {
			r[i] = c.read(w[0]&0x3F + byte(i-1))
		}
	case SPI_FB_WRITE & 0xC0:
		c.txFB = append([]byte(nil), w[1:]...)
	default: // frame buffer read
		copy(r[1:], c.rxFB)
	}
	return nil
}

func (c *fakeChip) write(addr, val byte) {
	if addr != REG_TRX_STATE {
		c.regs[addr] = val
		return
	}
	switch val & 0x1F {
	case CMD_FORCE_TRX_OFF, CMD_TRX_OFF:
		c.status = STATUS_TRX_OFF
	case CMD_RX_AACK_ON:
		c.status = STATUS_RX_AACK_ON
	case CMD_TX_ARET_ON:
		c.status = STATUS_TX_ARET_ON
	case CMD_TX_START:
		if c.status != STATUS_TX_ARET_ON || len(c.txFB) == 0 {
			return
		}
		n := int(c.txFB[0])
		c.sent <- append([]byte(nil), c.txFB[1:n-1]...) // strip PHR and fake FCS
		c.regs[REG_TRX_STATE] = c.trac << 5
		c.regs[REG_IRQ_STATUS] |= IRQ_TRX_END
		c.pin.raise()
	}
}

func (c *fakeChip) read(addr byte) byte {
	switch addr {
	case REG_TRX_STATUS:
		return c.status
	case REG_IRQ_STATUS:
		v := c.regs[addr]
		c.regs[addr] = 0
		c.pin.level(ot154.GpioLow)
		return v
	}
	return c.regs[addr]
}

func (c *fakeChip) Speed(hz int64) error               { return nil }
func (c *fakeChip) Configure(mode int, bits int) error { return nil }
func (c *fakeChip) Close() error                       { return nil }

// inject makes a received frame appear in the frame buffer and raises the IRQ. The
// buffer layout is PHR, PSDU including 2 FCS bytes, LQI.
func (c *fakeChip) inject(psdu []byte) {
	c.mu.Lock()
	c.rxFB = append([]byte{byte(len(psdu) + 2)}, psdu...)
	c.rxFB = append(c.rxFB, 0, 0, 0xff) // FCS placeholder and LQI
	c.regs[REG_IRQ_STATUS] |= IRQ_TRX_END
	c.pin.raise()
	c.mu.Unlock()
}

// fakePin is an interrupt pin driven by the fake chip.
type fakePin struct {
	mu    sync.Mutex
	lvl   int
	edges chan struct{}
}

func (p *fakePin) raise() {
	p.level(ot154.GpioHigh)
	select {
	case p.edges <- struct{}{}:
	default:
	}
}

func (p *fakePin) level(l int) {
	p.mu.Lock()
	p.lvl = l
	p.mu.Unlock()
}

func (p *fakePin) In(edge int) error { return nil }

func (p *fakePin) Read() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lvl
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) Out(level int) {}
func (p *fakePin) Number() int   { return 99 }

func newTestDevice(t *testing.T) (*Device, *fakeChip, *ot154.Queue) {
	chip := newFakeChip()
	q := ot154.NewQueue(0)
	dev, err := New(chip, chip.pin, q, Opts{Logger: t.Logf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev, chip, q
}

func TestNewProbesChip(t *testing.T) {
	chip := newFakeChip()
	chip.regs[REG_PART_NUM] = 0x55
	if _, err := New(chip, chip.pin, nil, Opts{}); err == nil {
		t.Fatalf("New succeeded against a wrong part number")
	}
	dev, chip, _ := newTestDevice(t)
	_ = dev
	// Initialization leaves the chip configured and off.
	if chip.status != STATUS_TRX_OFF {
		t.Fatalf("chip state after init %#x expected TRX_OFF", chip.status)
	}
	if chip.regs[REG_IRQ_MASK] != IRQ_TRX_END {
		t.Fatalf("IRQ_MASK got %#x expected TRX_END only", chip.regs[REG_IRQ_MASK])
	}
}

func TestProperties(t *testing.T) {
	dev, chip, _ := newTestDevice(t)
	if err := dev.Set(ot154.OptChannel, []byte{15, 0}); err != nil {
		t.Fatalf("Set channel: %v", err)
	}
	if got := chip.regs[REG_PHY_CC_CCA] & CHANNEL_MASK; got != 15 {
		t.Fatalf("PHY_CC_CCA channel got %d expected 15", got)
	}
	if err := dev.Set(ot154.OptChannel, []byte{27, 0}); err == nil {
		t.Fatalf("Set of out-of-band channel succeeded")
	}
	if err := dev.Set(ot154.OptPanID, []byte{0xcd, 0xab}); err != nil {
		t.Fatalf("Set pan: %v", err)
	}
	if chip.regs[REG_PAN_ID_0] != 0xcd || chip.regs[REG_PAN_ID_1] != 0xab {
		t.Fatalf("PAN_ID regs got %x %x", chip.regs[REG_PAN_ID_0], chip.regs[REG_PAN_ID_1])
	}
	addr := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if err := dev.Set(ot154.OptLongAddr, addr); err != nil {
		t.Fatalf("Set long addr: %v", err)
	}
	got := make([]byte, 8)
	if err := dev.Get(ot154.OptLongAddr, got); err != nil || !bytes.Equal(got, addr) {
		t.Fatalf("Get long addr got % x/%v", got, err)
	}
	if err := dev.Set(ot154.OptPromiscuous, []byte{1}); err != nil {
		t.Fatalf("Set promiscuous: %v", err)
	}
	if chip.regs[REG_XAH_CTRL_1]&AACK_PROM_MODE == 0 {
		t.Fatalf("promiscuous bit not set in XAH_CTRL_1")
	}
}

func TestTxPowerMapping(t *testing.T) {
	dev, chip, _ := newTestDevice(t)
	tests := map[int8]byte{4: 0x00, 0: 0x07, -3: 0x0A, -5: 0x0C, -17: 0x0F, -40: 0x0F}
	for dbm, code := range tests {
		if err := dev.Set(ot154.OptTxPower, []byte{byte(dbm), 0}); err != nil {
			t.Fatalf("Set power %d: %v", dbm, err)
		}
		if got := chip.regs[REG_PHY_TX_PWR]; got != code {
			t.Fatalf("power %ddBm got code %#x expected %#x", dbm, got, code)
		}
	}
}

func TestStateMapping(t *testing.T) {
	dev, chip, _ := newTestDevice(t)
	if err := dev.Set(ot154.OptState, []byte{byte(ot154.DevIdle)}); err != nil {
		t.Fatalf("Set state: %v", err)
	}
	if chip.status != STATUS_RX_AACK_ON {
		t.Fatalf("chip state got %#x expected RX_AACK_ON", chip.status)
	}
	buf := make([]byte, 1)
	if err := dev.Get(ot154.OptState, buf); err != nil || ot154.DevState(buf[0]) != ot154.DevIdle {
		t.Fatalf("Get state got %v/%v expected idle", buf[0], err)
	}
	// Off and sleep both land in TRX_OFF but read back differently.
	dev.Set(ot154.OptState, []byte{byte(ot154.DevOff)})
	dev.Get(ot154.OptState, buf)
	if ot154.DevState(buf[0]) != ot154.DevOff {
		t.Fatalf("Get state got %v expected off", buf[0])
	}
	dev.Set(ot154.OptState, []byte{byte(ot154.DevSleep)})
	dev.Get(ot154.OptState, buf)
	if ot154.DevState(buf[0]) != ot154.DevSleep {
		t.Fatalf("Get state got %v expected sleep", buf[0])
	}
}

func TestSendAndOutcomes(t *testing.T) {
	tests := map[byte]ot154.EventKind{
		TRAC_SUCCESS:         ot154.EvTxComplete,
		TRAC_SUCCESS_PENDING: ot154.EvTxCompleteDataPending,
		TRAC_NO_ACK:          ot154.EvTxNoAck,
		TRAC_CHANNEL_FAIL:    ot154.EvTxMediumBusy,
	}
	for trac, kind := range tests {
		dev, chip, q := newTestDevice(t)
		chip.trac = trac
		if err := dev.Send([]byte{0x61, 0x88}, []byte("data")); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if got := <-chip.sent; !bytes.Equal(got, append([]byte{0x61, 0x88}, "data"...)) {
			t.Fatalf("chip transmitted % x", got)
		}
		if ev := wait(t, q); ev.Kind != kind {
			t.Fatalf("trac %d: event got %v expected %v", trac, ev.Kind, kind)
		}
		// The completion path re-arms the receiver.
		if chip.status != STATUS_RX_AACK_ON {
			t.Fatalf("chip state after tx %#x expected RX_AACK_ON", chip.status)
		}
		dev.Close()
	}
}

func TestReceive(t *testing.T) {
	dev, chip, q := newTestDevice(t)
	dev.Set(ot154.OptState, []byte{byte(ot154.DevIdle)})
	chip.inject([]byte("hello 15.4"))
	ev := wait(t, q)
	if ev.Kind != ot154.EvRxComplete || ev.Len != 10 {
		t.Fatalf("event got %v/%d expected rx-complete/10", ev.Kind, ev.Len)
	}
	if n, err := dev.Recv(nil); err != nil || n != 10 {
		t.Fatalf("Recv(nil) got %d/%v", n, err)
	}
	buf := make([]byte, 10)
	if n, err := dev.Recv(buf); err != nil || n != 10 || string(buf) != "hello 15.4" {
		t.Fatalf("Recv got %d/%v %q", n, err, buf)
	}
	if _, err := dev.Recv(nil); err == nil {
		t.Fatalf("frame not consumed")
	}
}

func wait(t *testing.T, q *ot154.Queue) ot154.Event {
	t.Helper()
	ch := make(chan ot154.Event, 1)
	go func() { ch <- q.Wait() }()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no event arrived")
		return ot154.Event{}
	}
}
