package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/kirbo/go-sensormap/internal/channels"
	"github.com/kirbo/go-sensormap/internal/models"
)

// RedisHub receives full sensor records published on sensor:<id>.
type RedisHub struct {
	*hub
	client *redis.Client
}

func NewRedisHub(client *redis.Client, logger *slog.Logger) *RedisHub {
	return &RedisHub{
		hub:    newHub(logger.With("component", "redis-hub"), time.Minute),
		client: client,
	}
}

// Run pattern-subscribes to every sensor channel until ctx is done.
func (r *RedisHub) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channels.Sensor+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.logger.Info("subscribed", "pattern", channels.Sensor+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Channel, msg.Payload)
		}
	}
}

func (r *RedisHub) handle(channel, payload string) {
	id, ok := channels.SensorID(channel)
	if !ok {
		return
	}

	var sensor models.Sensor
	if err := json.Unmarshal([]byte(payload), &sensor); err != nil {
		r.logger.Warn("bad sensor payload", "channel", channel, "error", err)
		return
	}
	r.dispatch(id, []byte(payload), sensor)
}

// Publisher stores the latest record of a sensor and announces it.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish writes s under sensor:<id> and publishes it on the same channel.
func (p *Publisher) Publish(ctx context.Context, s models.Sensor) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	key := channels.SensorKey(s.ID)
	if err := p.client.Publish(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	if err := p.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Latest reads the last record published for id.
func (p *Publisher) Latest(ctx context.Context, id string) (models.Sensor, error) {
	var s models.Sensor
	raw, err := p.client.Get(ctx, channels.SensorKey(id)).Result()
	if err != nil {
		return s, err
	}
	err = json.Unmarshal([]byte(raw), &s)
	return s, err
}
