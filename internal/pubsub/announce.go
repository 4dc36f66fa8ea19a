package pubsub

import (
	"context"
	"log/slog"

	"github.com/kirbo/go-sensormap/internal/dashboard"
	"github.com/kirbo/go-sensormap/internal/models"
)

type SensorPublisher interface {
	Publish(ctx context.Context, s models.Sensor) error
}

// Announcer wraps a backend and publishes every record a transition returns,
// so other dashboards converge on it.
type Announcer struct {
	dashboard.Backend
	publisher SensorPublisher
	logger    *slog.Logger
}

func NewAnnouncer(b dashboard.Backend, p SensorPublisher, logger *slog.Logger) *Announcer {
	return &Announcer{Backend: b, publisher: p, logger: logger.With("component", "announcer")}
}

func (a *Announcer) ActivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return a.announce(ctx, a.Backend.ActivateSensor, id)
}

func (a *Announcer) DeactivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return a.announce(ctx, a.Backend.DeactivateSensor, id)
}

func (a *Announcer) announce(ctx context.Context, call func(context.Context, string) (models.Sensor, error), id string) (models.Sensor, error) {
	s, err := call(ctx, id)
	if err != nil {
		return s, err
	}
	announced := s.Clone()
	announced.Transitioned = true
	if perr := a.publisher.Publish(ctx, announced); perr != nil {
		a.logger.Warn("publish after transition failed", "sensor", id, "error", perr)
	}
	return s, nil
}
