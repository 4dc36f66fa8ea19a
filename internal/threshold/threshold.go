// Package threshold classifies environmental readings into color bands.
package threshold

import (
	"fmt"

	"github.com/kirbo/go-sensormap/internal/models"
)

type Color string

const (
	Red    Color = "red"
	Yellow Color = "yellow"
	Green  Color = "green"
)

type Metric string

const (
	Temperature Metric = "temperature"
	Moisture    Metric = "moisture"
	Light       Metric = "light"
)

// DefaultBands are used for metrics the configuration does not override.
// Temperature is in °F, moisture in %, light in lux.
var DefaultBands = map[Metric]models.Band{
	Temperature: {Low: 60, IdealMin: 70, IdealMax: 85, High: 95},
	Moisture:    {Low: 20, IdealMin: 30, IdealMax: 60, High: 80},
	Light:       {Low: 200, IdealMin: 400, IdealMax: 800, High: 1000},
}

// Evaluator maps metric values to colors using one band per metric.
type Evaluator struct {
	bands map[Metric]models.Band
}

// New returns an evaluator using DefaultBands overridden by bands.
func New(bands map[string]models.Band) (*Evaluator, error) {
	e := &Evaluator{bands: make(map[Metric]models.Band, len(DefaultBands))}
	for m, b := range DefaultBands {
		e.bands[m] = b
	}
	for name, b := range bands {
		if err := Validate(b); err != nil {
			return nil, fmt.Errorf("threshold %s: %w", name, err)
		}
		e.bands[Metric(name)] = b
	}
	return e, nil
}

// Validate checks low < idealMin <= idealMax < high.
func Validate(b models.Band) error {
	if !(b.Low < b.IdealMin && b.IdealMin <= b.IdealMax && b.IdealMax < b.High) {
		return fmt.Errorf("band %+v is not ordered", b)
	}
	return nil
}

// Band returns the band used for a metric.
func (e *Evaluator) Band(m Metric) (models.Band, bool) {
	b, ok := e.bands[m]
	return b, ok
}

// Classify colors value with the band of m. Unknown metrics are an error.
func (e *Evaluator) Classify(m Metric, value float64) (Color, error) {
	b, ok := e.bands[m]
	if !ok {
		return "", fmt.Errorf("unknown metric %q", m)
	}
	return ClassifyBand(b, value), nil
}

// ClassifyBand is total over the reals: anything outside [low, high) is red.
func ClassifyBand(b models.Band, value float64) Color {
	switch {
	case value < b.Low:
		return Red
	case value < b.IdealMin:
		return Yellow
	case value <= b.IdealMax:
		return Green
	case value < b.High:
		return Yellow
	default:
		return Red
	}
}
