package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	log "github.com/sirupsen/logrus"
)

// ErrNotConnected is returned when publishing while the broker connection is down.
var ErrNotConnected = errors.New("mqtt client is not connected")

// client is the subset of mqtt.Client used by the publisher.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events as JSON to a single topic.
type MQTTPublisher struct {
	client  client
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(constants.EventPublishTimeoutSeconds * time.Second) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.Broker, err)
	}

	return newMQTTPublisher(c, cfg.Topic), nil
}

func newMQTTPublisher(c client, topic string) *MQTTPublisher {
	return &MQTTPublisher{
		client:  c,
		topic:   topic,
		timeout: constants.EventPublishTimeoutSeconds * time.Second,
	}
}

// Publish sends the event with QoS 1 and waits for the broker to acknowledge it.
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	token := p.client.Publish(p.topic, 1, false, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		return fmt.Errorf("publishing to %s: timed out after %s", p.topic, p.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight messages 250ms to finish.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// New returns an MQTT publisher when a broker is configured, Noop otherwise.
func New(cfg config.MQTTConfig) (Publisher, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	p, err := NewMQTTPublisher(cfg)
	if err != nil {
		return nil, err
	}
	return p, nil
}
