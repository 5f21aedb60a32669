// Package notify publishes guest arrivals to an MQTT broker.
package notify

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Arrival is a guest that entered the camera's view.
type Arrival struct {
	Name       string    `json:"name"`
	GuestCount int       `json:"guest_count"`
	FrameSeq   uint64    `json:"frame_seq"`
	At         time.Time `json:"at"`
}

// Payload is the JSON body published for a.
func (a Arrival) Payload() ([]byte, error) {
	return json.Marshal(a)
}

// MQTT publishes arrivals on a single topic at QoS 1.
type MQTT struct {
	client    mqtt.Client
	topic     string
	log       *zap.Logger
	connected atomic.Bool
}

// NewMQTT connects to broker (e.g. "tcp://localhost:1883"). The client keeps
// reconnecting in the background after the first successful connect.
func NewMQTT(broker, clientID, topic string, log *zap.Logger) (*MQTT, error) {
	m := &MQTT{topic: topic, log: log.With(zap.String("component", "mqtt"))}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		m.connected.Store(true)
		m.log.Info("mqtt connected", zap.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.connected.Store(false)
		m.log.Warn("mqtt connection lost, reconnecting", zap.Error(err))
	}

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return m, nil
}

// Announce publishes a and waits for the broker to acknowledge it.
func (m *MQTT) Announce(a Arrival) error {
	if !m.connected.Load() {
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := a.Payload()
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s: timeout", m.topic)
	}
	return token.Error()
}

// Close disconnects, allowing 250ms for in-flight messages.
func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	m.connected.Store(false)
}
