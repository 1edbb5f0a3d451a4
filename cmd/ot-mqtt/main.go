// Copyright 2018 by Thorsten von Eicken, see LICENSE file for details

// ot-mqtt is a gateway between an 802.15.4 radio and an MQTT broker: received frames
// are decoded and published as JSON, frames published to the tx topic are
// transmitted, and the gateway periodically publishes its counters. The radio is
// driven through the dispatch loop, so everything radio-side runs on one goroutine
// while MQTT callbacks only post tasks into it.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/periph/host"

	"github.com/tve/ot154"
	"github.com/tve/ot154/alarm"
	"github.com/tve/ot154/at86rf233"
	"github.com/tve/ot154/ieee154"
	"github.com/tve/ot154/loop"
	"github.com/tve/ot154/radio"
	"github.com/tve/ot154/serialdev"
	"github.com/tve/ot154/simdev"
)

const statsInterval = 60 * 1000 // milliseconds between stats publications

// rxMessage is the JSON published for each received frame.
type rxMessage struct {
	At      time.Time `json:"at"`
	Seq     uint8     `json:"seq"`
	Src     string    `json:"src,omitempty"`
	Dst     string    `json:"dst,omitempty"`
	Rssi    int8      `json:"rssi"`
	Psdu    string    `json:"psdu"` // hex encoded
	Payload string    `json:"payload,omitempty"`
}

// txMessage is the JSON accepted on the tx topic.
type txMessage struct {
	Psdu string `json:"psdu"` // hex encoded, complete MAC frame
}

// statsMessage is the JSON published periodically.
type statsMessage struct {
	At      time.Time `json:"at"`
	Rx      int       `json:"rx"`
	Tx      int       `json:"tx"`
	TxFail  int       `json:"tx_fail"`
	Faults  int       `json:"faults"`
	Dropped uint32    `json:"dropped"`
}

// gateway is the protocol stack the dispatch loop runs: it bridges radio upcalls to
// MQTT and owns the periodic stats alarm.
type gateway struct {
	*loop.TaskQueue
	radio   *radio.Radio
	alarm   *alarm.Alarm
	q       *ot154.Queue
	mq      *mq
	prefix  string
	channel uint8
	log     *logrus.Entry
	rxCnt   int
	txCnt   int
	txFail  int
}

func (g *gateway) OnReceiveDone(f *radio.Frame, err error) {
	if err != nil {
		g.log.Warnf("receive aborted: %s", err)
		return
	}
	g.rxCnt++
	msg := rxMessage{At: time.Now(), Rssi: f.Power, Psdu: hex.EncodeToString(f.Payload())}
	if h, off, err := ieee154.Decode(f.Payload()); err == nil {
		msg.Seq = h.Seq
		msg.Src = addrString(h.SrcMode, h.SrcShort, h.SrcExt)
		msg.Dst = addrString(h.DstMode, h.DstShort, h.DstExt)
		msg.Payload = hex.EncodeToString(f.Payload()[off:])
	}
	g.mq.Publish(g.prefix+"/rx", msg)
}

func (g *gateway) OnTransmitDone(f *radio.Frame, pending bool, err error) {
	if err != nil {
		g.txFail++
		g.log.Warnf("transmit failed: %s", err)
		return
	}
	g.txCnt++
}

// AlarmFired publishes the stats and re-arms the alarm.
func (g *gateway) AlarmFired() {
	g.mq.Publish(g.prefix+"/stats", statsMessage{
		At: time.Now(), Rx: g.rxCnt, Tx: g.txCnt, TxFail: g.txFail,
		Faults: g.radio.Faults(), Dropped: g.q.Dropped(),
	})
	g.alarm.StartAt(g.alarm.Now(), statsInterval)
}

// transmit runs on the loop goroutine and pushes one frame out.
func (g *gateway) transmit(psdu []byte) {
	f := g.radio.TransmitBuffer()
	if err := f.SetPayload(psdu); err != nil {
		g.txFail++
		g.log.Warnf("cannot transmit: %s", err)
		return
	}
	f.Channel = g.channel
	if err := g.radio.Transmit(); err != nil {
		g.txFail++
		g.log.Warnf("cannot transmit: %s", err)
	}
}

func addrString(mode int, short uint16, ext [8]byte) string {
	switch mode {
	case ieee154.AddrShort:
		return fmt.Sprintf("%04x", short)
	case ieee154.AddrExt:
		return hex.EncodeToString(ext[:])
	}
	return ""
}

// openDevice instantiates the configured radio driver.
func openDevice(cfg RadioConfig, q *ot154.Queue, debug ot154.LogPrintf) (ot154.Driver, error) {
	switch cfg.Driver {
	case "at86rf233":
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("periph init: %s", err)
		}
		spi, err := ot154.NewSPI(cfg.SPI)
		if err != nil {
			return nil, err
		}
		intr := ot154.NewGPIO(cfg.IntrPin)
		if intr == nil {
			return nil, fmt.Errorf("cannot open pin %s", cfg.IntrPin)
		}
		var slp ot154.GPIO
		if cfg.SlpPin != "" {
			if slp = ot154.NewGPIO(cfg.SlpPin); slp == nil {
				return nil, fmt.Errorf("cannot open pin %s", cfg.SlpPin)
			}
		}
		return at86rf233.New(spi, intr, q, at86rf233.Opts{Slp: slp, Logger: debug})
	case "serial":
		return serialdev.New(cfg.Port, q, serialdev.Opts{Baud: cfg.Baud, Logger: debug})
	case "sim":
		// Loopback-only, for trying out the MQTT side without hardware.
		return simdev.NewAir(debug).NewDevice(q), nil
	}
	return nil, fmt.Errorf("unknown radio driver %q", cfg.Driver)
}

func main() {
	configPath := flag.String("config", "ot-mqtt.yml", "path to yaml config file")
	debug := flag.Bool("debug", false, "enable debug output")
	flag.Parse()

	log := logrus.WithField("app", "ot-mqtt")
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	var debugLog ot154.LogPrintf = log.Debugf

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	q := ot154.NewQueue(0)
	dev, err := openDevice(cfg.Radio, q, debugLog)
	if err != nil {
		log.Fatal(err)
	}

	gw := &gateway{
		TaskQueue: loop.NewTaskQueue(q),
		alarm:     alarm.New(q, alarm.Opts{Logger: debugLog}),
		q:         q,
		prefix:    cfg.Mqtt.Prefix,
		channel:   cfg.Radio.Channel,
		log:       log,
	}
	r, err := radio.New(dev, radio.Opts{Handler: gw, Logger: debugLog})
	if err != nil {
		log.Fatal(err)
	}
	gw.radio = r

	gw.mq, err = newMQ(cfg.Mqtt, log)
	if err != nil {
		log.Fatal(err)
	}
	err = gw.mq.Subscribe(cfg.Mqtt.Prefix+"/tx", func(payload []byte) {
		var msg txMessage
		psdu, err := decodeTx(payload, &msg)
		if err != nil {
			log.Warnf("bad tx message: %s", err)
			return
		}
		gw.Post(func() { gw.transmit(psdu) })
	})
	if err != nil {
		log.Fatal(err)
	}

	// Radio bring-up happens as the loop's first task so all radio access stays on
	// the loop goroutine.
	gw.Post(func() {
		fatalIf(log, r.Enable())
		fatalIf(log, r.SetPanID(cfg.Radio.PanID))
		fatalIf(log, r.SetShortAddr(cfg.Radio.ShortAddr))
		fatalIf(log, r.SetPower(int16(cfg.Radio.TxPower)))
		fatalIf(log, r.Receive(cfg.Radio.Channel))
		log.Infof("radio up on channel %d, pan %04x", cfg.Radio.Channel, cfg.Radio.PanID)
		gw.alarm.StartAt(gw.alarm.Now(), statsInterval)
	})

	loop.New(q, r, gw, loop.Opts{Realtime: cfg.Radio.Realtime, Logger: debugLog}).Run()
}

func decodeTx(payload []byte, msg *txMessage) ([]byte, error) {
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, err
	}
	psdu, err := hex.DecodeString(msg.Psdu)
	if err != nil {
		return nil, fmt.Errorf("psdu is not valid hex: %s", err)
	}
	if len(psdu) == 0 {
		return nil, fmt.Errorf("empty psdu")
	}
	return psdu, nil
}

func fatalIf(log *logrus.Entry, err error) {
	if err != nil {
		log.Fatal(err)
	}
}
