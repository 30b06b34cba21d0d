package events

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/SmileGo/internal/debug"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Topic    string // prefix, the event kind is appended
	QoS      byte
	Codec    Codec
}

// MQTT publishes events to "<topic>/<kind>".
type MQTT struct {
	client mqtt.Client
	topic  string
	qos    byte
	codec  Codec

	mu        sync.Mutex
	published uint64
	failed    uint64
}

// DialMQTT connects to the broker with automatic reconnection.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		debug.Info("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		debug.Warn("MQTT connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newMQTT(client, cfg), nil
}

func newMQTT(client mqtt.Client, cfg MQTTConfig) *MQTT {
	codec := cfg.Codec
	if codec == nil {
		codec = JSON
	}
	return &MQTT{client: client, topic: cfg.Topic, qos: cfg.QoS, codec: codec}
}

func (m *MQTT) Publish(e Event) error {
	if !m.client.IsConnected() {
		m.count(false)
		return errors.New("mqtt not connected")
	}
	payload, err := m.codec.Marshal(e)
	if err != nil {
		m.count(false)
		return fmt.Errorf("encode %s event: %w", e.Kind, err)
	}

	topic := m.topic + "/" + string(e.Kind)
	token := m.client.Publish(topic, m.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.count(false)
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		m.count(false)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	m.count(true)
	debug.Trace("MQTT %s <- %d bytes (%s)", topic, len(payload), m.codec.Name())
	return nil
}

// Stats returns the number of published and failed messages.
func (m *MQTT) Stats() (published, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published, m.failed
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) count(ok bool) {
	m.mu.Lock()
	if ok {
		m.published++
	} else {
		m.failed++
	}
	m.mu.Unlock()
}
