package publisher

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gasmesh/gateway/pkg/log"
)

// MQTTConfig configures an MQTTSink.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Qos and Retain mirror the original gateway's "retain state so a
	// freshly subscribed dashboard gets the last known value" publish
	// discipline. The zero value publishes at QoS 0 without retain; the
	// gateway's sink construction sets Retain to true.
	QoS    byte
	Retain bool
}

func (c MQTTConfig) withDefaults() MQTTConfig {
	if c.ClientID == "" {
		c.ClientID = "gasmesh-gateway"
	}
	return c
}

// MQTTSink publishes to an MQTT broker, retaining the last value per
// topic by default so late subscribers see current state immediately —
// the same behavior as the original gateway's Home Assistant discovery
// publisher, minus the discovery/autoconfig machinery this system has
// no analogue for.
type MQTTSink struct {
	client mqtt.Client
	qos    byte
	retain bool
}

// NewMQTTSink connects to the broker and blocks until the connection is
// established or the attempt fails.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Infof("publisher: mqtt connected to %s", cfg.Broker)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("publisher: mqtt connection lost: %v", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("publisher: mqtt connect to %s: %w", cfg.Broker, token.Error())
	}

	return &MQTTSink{client: client, qos: cfg.QoS, retain: cfg.Retain}, nil
}

// Publish sends payload on topic, waiting briefly for broker
// acknowledgment so a publish failure is reported to the caller rather
// than silently dropped.
func (s *MQTTSink) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, s.qos, s.retain, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publisher: mqtt publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publisher: mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing up to 250ms to drain in-flight publishes.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
