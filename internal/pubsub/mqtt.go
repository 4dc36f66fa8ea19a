package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kirbo/go-sensormap/internal/models"
)

const DefaultTelemetryTopic = "sensors/+/telemetry"

// ConnectMQTT connects to the broker, retrying with exponential backoff.
func ConnectMQTT(ctx context.Context, cfg models.MQTTConfig, logger *slog.Logger) (mqtt.Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetClientID(cfg.User.ClientID)
	opts.SetUsername(cfg.User.Username)
	opts.SetPassword(cfg.User.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			logger.Warn("mqtt connect failed", "broker", addr, "error", token.Error())
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 5), ctx))
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", addr, err)
	}

	logger.Info("mqtt connected", "broker", addr)
	return client, nil
}

// MQTTHub receives raw readings on a topic such as sensors/<id>/telemetry.
// Updates it delivers carry no status: they are readings, not records.
type MQTTHub struct {
	*hub
	client  mqtt.Client
	topic   string
	idIndex int
}

// NewMQTTHub needs a topic with a single-level wildcard where the sensor id is.
func NewMQTTHub(client mqtt.Client, topic string, logger *slog.Logger) (*MQTTHub, error) {
	if topic == "" {
		topic = DefaultTelemetryTopic
	}

	idIndex := -1
	for i, part := range strings.Split(topic, "/") {
		if part == "+" {
			idIndex = i
			break
		}
	}
	if idIndex < 0 {
		return nil, fmt.Errorf("topic %q has no + segment for the sensor id", topic)
	}

	return &MQTTHub{
		hub:     newHub(logger.With("component", "mqtt-hub"), time.Minute),
		client:  client,
		topic:   topic,
		idIndex: idIndex,
	}, nil
}

func (m *MQTTHub) Start() error {
	token := m.client.Subscribe(m.topic, 1, m.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", m.topic, token.Error())
	}
	m.logger.Info("subscribed", "topic", m.topic)
	return nil
}

func (m *MQTTHub) Stop() {
	m.client.Unsubscribe(m.topic).Wait()
}

func (m *MQTTHub) onMessage(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if m.idIndex >= len(parts) || parts[m.idIndex] == "" {
		m.logger.Debug("topic without sensor id", "topic", msg.Topic())
		return
	}
	id := parts[m.idIndex]

	var reading models.Telemetry
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		m.logger.Warn("bad telemetry payload", "topic", msg.Topic(), "error", err)
		return
	}
	m.dispatch(id, msg.Payload(), models.Sensor{ID: id, Telemetry: reading})
}
