// Package projection computes the detail panel shown for the selected sensor.
package projection

import (
	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/signal"
	"github.com/kirbo/go-sensormap/internal/threshold"
)

// Panel holds every derived display value of one sensor.
type Panel struct {
	SensorID         string           `json:"sensorId"`
	Name             string           `json:"name"`
	Owner            string           `json:"owner"`
	Status           models.Status    `json:"status"`
	StatusColor      string           `json:"statusColor"`
	SignalLevel      int              `json:"signalLevel"`
	SignalLabel      string           `json:"signalLabel"`
	PacketLossLevel  int              `json:"packetLossLevel"`
	PacketLossLabel  string           `json:"packetLossLabel"`
	BatteryTier      string           `json:"batteryTier"`
	TemperatureColor threshold.Color  `json:"temperatureColor"`
	MoistureColor    threshold.Color  `json:"moistureColor"`
	LightColor       threshold.Color  `json:"lightColor"`
	Telemetry        models.Telemetry `json:"telemetry"`
}

// Projector caches the panel of the last refreshed sensor.
type Projector struct {
	eval    *threshold.Evaluator
	current *Panel
}

func New(eval *threshold.Evaluator) *Projector {
	return &Projector{eval: eval}
}

// Refresh recomputes the panel from s alone and caches it.
func (p *Projector) Refresh(s models.Sensor) Panel {
	panel := Project(p.eval, s)
	p.current = &panel
	return panel
}

// Clear drops the cached panel.
func (p *Projector) Clear() {
	p.current = nil
}

// Current returns the cached panel, if any.
func (p *Projector) Current() (Panel, bool) {
	if p.current == nil {
		return Panel{}, false
	}
	return *p.current, true
}

// Project derives the panel of s.
func Project(eval *threshold.Evaluator, s models.Sensor) Panel {
	t := s.Telemetry
	level := signal.Level(t.RSSI)
	loss := signal.PacketLossSeverity(t.PacketLoss)

	return Panel{
		SensorID:         s.ID,
		Name:             s.Name,
		Owner:            s.OwnerLabel(),
		Status:           s.Status,
		StatusColor:      mapsync.ColorName(s.Status),
		SignalLevel:      level,
		SignalLabel:      signal.Label(level),
		PacketLossLevel:  loss,
		PacketLossLabel:  signal.PacketLossLabel(loss),
		BatteryTier:      signal.BatteryTier(t.Battery),
		TemperatureColor: classify(eval, threshold.Temperature, t.Temperature),
		MoistureColor:    classify(eval, threshold.Moisture, t.Moisture),
		LightColor:       classify(eval, threshold.Light, t.Light),
		Telemetry:        t,
	}
}

func classify(eval *threshold.Evaluator, m threshold.Metric, v float64) threshold.Color {
	c, err := eval.Classify(m, v)
	if err != nil {
		return threshold.ClassifyBand(threshold.DefaultBands[m], v)
	}
	return c
}
