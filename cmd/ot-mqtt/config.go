// Copyright 2018 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"
)

// RadioConfig selects and parameterizes the radio driver.
type RadioConfig struct {
	Driver    string `yaml:"driver"`     // at86rf233, serial or sim
	SPI       string `yaml:"spi"`        // SPI port name for at86rf233, e.g. /dev/spidev0.0
	IntrPin   string `yaml:"intr_pin"`   // interrupt pin name for at86rf233
	SlpPin    string `yaml:"slp_pin"`    // optional SLP_TR pin name for at86rf233
	Port      string `yaml:"port"`       // serial port for the serial driver
	Baud      int    `yaml:"baud"`       // serial baud rate, 0 for the driver default
	Channel   uint8  `yaml:"channel"`    // 802.15.4 channel, 11..26
	PanID     uint16 `yaml:"pan_id"`     // PAN to join
	ShortAddr uint16 `yaml:"short_addr"` // our short address
	TxPower   int8   `yaml:"tx_power"`   // transmit power in dBm
	Realtime  bool   `yaml:"realtime"`   // run the dispatch loop at realtime priority
}

// MqttConfig describes the broker connection.
type MqttConfig struct {
	Host     string `yaml:"host"`     // broker host, empty means discover via mDNS
	Port     int    `yaml:"port"`     // broker port, default 1883
	User     string `yaml:"user"`     // broker credentials, optional
	Password string `yaml:"password"` //
	Prefix   string `yaml:"prefix"`   // topic prefix, default ot154
}

// Config is the top-level ot-mqtt configuration file.
type Config struct {
	Radio RadioConfig `yaml:"radio"`
	Mqtt  MqttConfig  `yaml:"mqtt"`
}

// loadConfig reads and validates a yaml config file and fills in defaults.
func loadConfig(path string) (*Config, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %s", err)
	}
	cfg := &Config{
		Radio: RadioConfig{Driver: "at86rf233", Channel: 11, PanID: 0xffff},
		Mqtt:  MqttConfig{Port: 1883, Prefix: "ot154"},
	}
	if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %s", path, err)
	}
	if cfg.Radio.Channel < 11 || cfg.Radio.Channel > 26 {
		return nil, fmt.Errorf("channel %d out of range 11..26", cfg.Radio.Channel)
	}
	switch cfg.Radio.Driver {
	case "at86rf233", "serial", "sim":
	default:
		return nil, fmt.Errorf("unknown radio driver %q", cfg.Radio.Driver)
	}
	return cfg, nil
}
