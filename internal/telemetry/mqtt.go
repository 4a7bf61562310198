package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTClient wraps paho.mqtt.golang: the initial connect is retried with a
// constant backoff and later connection losses are handled by paho's
// automatic reconnect. Grounded on
// original_source/Basestation/PublishToThingsboard.py's DataLogger and
// Mapping.py's get_updates.
type MQTTClient struct {
	client mqtt.Client
	logger *logrus.Logger
}

// AttributeHandler is invoked once per message on a subscribed
// attribute-update topic.
type AttributeHandler func(topic string, payload []byte)

// NewMQTTClient connects to broker:port authenticating with token as the
// MQTT username (Thingsboard's device-access-token convention), retrying
// the initial connect with a constant 2s backoff up to 5 times.
func NewMQTTClient(ctx context.Context, broker string, port int, token string, logger *logrus.Logger) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port)).
		SetUsername(token).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("telemetry: mqtt connection lost, auto-reconnecting")
		})
	client := mqtt.NewClient(opts)

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 5), ctx)
	err := backoff.Retry(func() error {
		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("mqtt connect timed out")
		}
		return token.Error()
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s:%d: %w", broker, port, err)
	}

	return &MQTTClient{client: client, logger: logger}, nil
}

// Subscribe registers fn on topic at QoS 1, logging (not failing) any
// subscribe error — matching spec §4.2's "fails softly" requirement.
func (c *MQTTClient) Subscribe(topic string, fn AttributeHandler) {
	token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		c.logger.WithField("topic", topic).Warn("telemetry: subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		c.logger.WithError(err).WithField("topic", topic).Warn("telemetry: subscribe failed")
	}
}

// PublishJSON marshals v and publishes it to topic at QoS 1, returning any
// marshal, timeout or publish error to the caller.
func (c *MQTTClient) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling publish payload for %q: %w", topic, err)
	}
	token := c.client.Publish(topic, 1, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publishing to %q: timed out", topic)
	}
	return token.Error()
}

// Disconnect closes the connection, waiting up to 250ms for in-flight
// publishes to drain.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}
