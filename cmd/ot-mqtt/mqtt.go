// Copyright 2018 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// mq is a handle onto an MQTT broker connection. It isolates the gateway code from
// the paho client and marshals payloads to JSON.
type mq struct {
	conn mqtt.Client
	log  *logrus.Entry
}

// newMQ connects to a broker, discovering it via mDNS when no host is configured.
// The initial connection is retried with exponential backoff so the gateway survives
// booting before the network is up; later disconnects are handled by the paho
// client's auto-reconnect.
func newMQ(conf MqttConfig, log *logrus.Entry) (*mq, error) {
	host, port := conf.Host, conf.Port
	if host == "" {
		var err error
		if host, port, err = discoverBroker(log); err != nil {
			return nil, err
		}
	}
	hostname, _ := os.Hostname()
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("ot-mqtt-" + hostname).
		SetUsername(conf.User).
		SetPassword(conf.Password).
		SetAutoReconnect(true)
	conn := mqtt.NewClient(opts)

	connect := func() error {
		token := conn.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connect to %s:%d timed out", host, port)
		}
		return token.Error()
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(connect, bo); err != nil {
		return nil, fmt.Errorf("cannot connect to broker %s:%d: %s", host, port, err)
	}
	log.Infof("connected to MQTT broker %s:%d", host, port)
	return &mq{conn: conn, log: log}, nil
}

// discoverBroker browses mDNS for an _mqtt._tcp service and returns the first hit.
func discoverBroker(log *logrus.Entry) (string, int, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", 0, fmt.Errorf("mdns resolver: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := resolver.Browse(ctx, "_mqtt._tcp", "local.", entries); err != nil {
		return "", 0, fmt.Errorf("mdns browse: %s", err)
	}
	for e := range entries {
		if e == nil {
			continue
		}
		if len(e.AddrIPv4) > 0 {
			log.Infof("discovered broker %s at %s:%d", e.Instance, e.AddrIPv4[0], e.Port)
			return e.AddrIPv4[0].String(), e.Port, nil
		}
		if e.HostName != "" {
			return e.HostName, e.Port, nil
		}
	}
	return "", 0, fmt.Errorf("no MQTT broker found via mDNS")
}

// Publish marshals payload to JSON and publishes it at QoS 1.
func (m *mq) Publish(topic string, payload interface{}) {
	buf, err := json.Marshal(payload)
	if err != nil {
		m.log.Errorf("cannot marshal message for %s: %s", topic, err)
		return
	}
	m.conn.Publish(topic, 1, false, buf)
}

// Subscribe registers a handler for a topic at QoS 1. The handler runs on a paho
// goroutine, not on the dispatch loop.
func (m *mq) Subscribe(topic string, handler func([]byte)) error {
	token := m.conn.Subscribe(topic, 1, func(c mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	return token.Error()
}
