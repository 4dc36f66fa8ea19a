// Package mapsync keeps the rendered marker set in lockstep with the sensors.
package mapsync

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kirbo/go-sensormap/internal/models"
)

// ErrEngineUnavailable is returned by engines that cannot render, e.g. when
// no map client is attached.
var ErrEngineUnavailable = errors.New("map engine unavailable")

// Engine draws markers. Implementations may be remote; the layer treats any
// error as the engine being gone.
type Engine interface {
	AddMarker(m models.Marker) error
	RemoveMarker(m models.Marker) error
	FlyTo(p models.Position, zoom, speed float64) error
}

const (
	DefaultFocusZoom  = 20
	DefaultFocusSpeed = 0.75
)

var statusColors = map[models.Status]string{
	models.StatusOnline:      "#3c8e3f",
	models.StatusOffline:     "#e00e0e",
	models.StatusWeak:        "#e6b800",
	models.StatusDeactivated: "#777777",
}

var statusColorNames = map[models.Status]string{
	models.StatusOnline:      "green",
	models.StatusOffline:     "red",
	models.StatusWeak:        "amber",
	models.StatusDeactivated: "gray",
}

// Color returns the marker color of a status. Unknown statuses are gray.
func Color(s models.Status) string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return statusColors[models.StatusDeactivated]
}

// ColorName is the human name of Color(s).
func ColorName(s models.Status) string {
	if c, ok := statusColorNames[s]; ok {
		return c
	}
	return statusColorNames[models.StatusDeactivated]
}

type entry struct {
	marker  models.Marker
	onClick func()
}

// Layer owns the id -> marker mapping. It is not safe for concurrent use.
type Layer struct {
	engine   Engine
	logger   *slog.Logger
	markers  map[string]entry
	next     uint64
	disabled bool
	zoom     float64
	speed    float64
	onSelect func(sensorID string)
}

// New returns a layer drawing on engine. A nil engine yields a disabled layer.
func New(engine Engine, logger *slog.Logger, zoom float64) *Layer {
	if zoom <= 0 {
		zoom = DefaultFocusZoom
	}
	return &Layer{
		engine:   engine,
		logger:   logger.With("component", "mapsync"),
		markers:  make(map[string]entry),
		disabled: engine == nil,
		zoom:     zoom,
		speed:    DefaultFocusSpeed,
	}
}

// OnSelect sets the callback attached to every marker created afterwards.
func (l *Layer) OnSelect(fn func(sensorID string)) {
	l.onSelect = fn
}

// Available reports whether the layer still renders.
func (l *Layer) Available() bool {
	return !l.disabled
}

// RenderAll drops every marker and creates one per sensor.
func (l *Layer) RenderAll(sensors []models.Sensor) error {
	if l.disabled {
		return nil
	}

	for id, e := range l.markers {
		if err := l.engine.RemoveMarker(e.marker); err != nil {
			return l.fail(err)
		}
		delete(l.markers, id)
	}

	for _, s := range sensors {
		if err := l.place(s); err != nil {
			return l.fail(err)
		}
	}

	l.logger.Debug("markers rendered", "count", len(l.markers))
	return nil
}

// UpdateOne replaces the marker of s with a fresh one.
func (l *Layer) UpdateOne(s models.Sensor) error {
	if l.disabled {
		return nil
	}
	if err := l.place(s); err != nil {
		return l.fail(err)
	}
	return nil
}

// Focus moves the view to the sensor without touching markers.
func (l *Layer) Focus(s models.Sensor) error {
	if l.disabled {
		return nil
	}
	if err := l.engine.FlyTo(s.Position, l.zoom, l.speed); err != nil {
		return l.fail(err)
	}
	return nil
}

// Click runs the callback attached to the marker of sensorID.
func (l *Layer) Click(sensorID string) bool {
	e, ok := l.markers[sensorID]
	if !ok || e.onClick == nil {
		return false
	}
	e.onClick()
	return true
}

// Marker returns the current marker of a sensor.
func (l *Layer) Marker(sensorID string) (models.Marker, bool) {
	e, ok := l.markers[sensorID]
	return e.marker, ok
}

// Markers returns every marker in creation order.
func (l *Layer) Markers() []models.Marker {
	out := make([]models.Marker, 0, len(l.markers))
	for _, e := range l.markers {
		out = append(out, e.marker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (l *Layer) place(s models.Sensor) error {
	if old, ok := l.markers[s.ID]; ok {
		if err := l.engine.RemoveMarker(old.marker); err != nil {
			return err
		}
		delete(l.markers, s.ID)
	}

	l.next++
	m := models.Marker{
		SensorID: s.ID,
		Handle:   l.next,
		Label:    s.Name,
		Position: s.Position,
		Status:   s.Status,
		Color:    Color(s.Status),
	}
	if err := l.engine.AddMarker(m); err != nil {
		return err
	}

	id := s.ID
	l.markers[id] = entry{marker: m, onClick: func() {
		if l.onSelect != nil {
			l.onSelect(id)
		}
	}}
	return nil
}

func (l *Layer) fail(err error) error {
	l.disabled = true
	l.markers = make(map[string]entry)
	l.logger.Warn("map rendering disabled", "error", err)
	return fmt.Errorf("render: %w", err)
}
