// Copyright 2017 by Thorsten von Eicken, see LICENSE file

// The shims in here put a minimal interface in front of periph so driver packages can
// be handed fakes in tests and don't each grow a dependency on the periph types.

package ot154

import (
	"fmt"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

// SPI is the subset of an SPI connection the drivers need.
type SPI interface {
	Tx(w, r []byte) error
	Speed(hz int64) error
	Configure(mode int, bits int) error
	Close() error
}

const (
	SPIMode0 = 0x0 // CPOL=0, CPHA=0
	SPIMode1 = 0x1 // CPOL=0, CPHA=1
	SPIMode2 = 0x2 // CPOL=1, CPHA=0
	SPIMode3 = 0x3 // CPOL=1, CPHA=1
)

// GPIO is the subset of a GPIO pin the drivers need.
type GPIO interface {
	In(edge int) error
	Read() int
	WaitForEdge(timeout time.Duration) bool
	Out(level int)
	Number() int
}

const (
	GpioLow         = 0
	GpioHigh        = 1
	GpioNoEdge      = 0
	GpioRisingEdge  = 1
	GpioFallingEdge = 2
	GpioBothEdges   = 3
)

//===== SPI shim for periph

// NewSPI opens the named SPI port via the periph registry, an empty name selects the
// first available port. The connection is established lazily on the first Tx so Speed
// and Configure can be called beforehand.
func NewSPI(name string) (SPI, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("SPI %s: %s", name, err)
	}
	return &spiShim{port: port, hz: 4 * physic.MegaHertz, mode: spi.Mode0, bits: 8}, nil
}

type spiShim struct {
	port spi.PortCloser
	conn spi.Conn
	hz   physic.Frequency
	mode spi.Mode
	bits int
}

func (s *spiShim) Speed(hz int64) error {
	if s.conn != nil {
		return fmt.Errorf("SPI: cannot change speed after first transaction")
	}
	s.hz = physic.Frequency(hz) * physic.Hertz
	return nil
}

func (s *spiShim) Configure(mode int, bits int) error {
	if s.conn != nil {
		return fmt.Errorf("SPI: cannot reconfigure after first transaction")
	}
	s.mode = spi.Mode(mode)
	s.bits = bits
	return nil
}

func (s *spiShim) Tx(w, r []byte) error {
	if s.conn == nil {
		conn, err := s.port.Connect(s.hz, s.mode, s.bits)
		if err != nil {
			return fmt.Errorf("SPI: %s", err)
		}
		s.conn = conn
	}
	return s.conn.Tx(w, r)
}

func (s *spiShim) Close() error { return s.port.Close() }

//===== GPIO shim for periph

// NewGPIO opens the named pin via the periph registry and returns nil if it doesn't
// exist.
func NewGPIO(name string) GPIO {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	return &gpioShim{p: p}
}

type gpioShim struct {
	p gpio.PinIO
}

func (g *gpioShim) In(edge int) error {
	e := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges}[edge]
	return g.p.In(gpio.PullNoChange, e)
}

func (g *gpioShim) Read() int {
	if g.p.Read() == gpio.High {
		return GpioHigh
	}
	return GpioLow
}

func (g *gpioShim) WaitForEdge(timeout time.Duration) bool {
	return g.p.WaitForEdge(timeout)
}

func (g *gpioShim) Out(level int) {
	g.p.Out(gpio.Level(level != GpioLow))
}

func (g *gpioShim) Number() int { return g.p.Number() }
