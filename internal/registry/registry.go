// Package registry holds the in-memory sensor collection shown by the dashboard.
package registry

import (
	"strings"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
)

// Registry is not safe for concurrent use; the dashboard loop owns it.
type Registry struct {
	sensors  []models.Sensor
	index    map[string]int
	selected string
}

func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load replaces the whole collection, keeping the given order. A repeated id
// replaces the earlier record in its position. The selection is dropped if
// the selected sensor is gone.
func (r *Registry) Load(sensors []models.Sensor) {
	r.sensors = make([]models.Sensor, 0, len(sensors))
	r.index = make(map[string]int, len(sensors))

	for _, s := range sensors {
		s = s.Clone()
		activation.Normalize(&s)
		if i, ok := r.index[s.ID]; ok {
			r.sensors[i] = s
			continue
		}
		r.index[s.ID] = len(r.sensors)
		r.sensors = append(r.sensors, s)
	}

	if _, ok := r.index[r.selected]; !ok {
		r.selected = ""
	}
}

func (r *Registry) Len() int {
	return len(r.sensors)
}

// All returns a copy of every sensor in load order.
func (r *Registry) All() []models.Sensor {
	out := make([]models.Sensor, len(r.sensors))
	for i, s := range r.sensors {
		out[i] = s.Clone()
	}
	return out
}

// Filter returns the sensors whose name or id contains keyword, ignoring
// case. A blank keyword returns everything.
func (r *Registry) Filter(keyword string) []models.Sensor {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return r.All()
	}

	out := []models.Sensor{}
	for _, s := range r.sensors {
		if strings.Contains(strings.ToLower(s.Name), kw) || strings.Contains(strings.ToLower(s.ID), kw) {
			out = append(out, s.Clone())
		}
	}
	return out
}

// NoResults is true only for a non-blank keyword that matches nothing.
func (r *Registry) NoResults(keyword string) bool {
	if strings.TrimSpace(keyword) == "" {
		return false
	}
	return len(r.Filter(keyword)) == 0
}

func (r *Registry) FindByID(id string) (models.Sensor, bool) {
	i, ok := r.index[id]
	if !ok {
		return models.Sensor{}, false
	}
	return r.sensors[i].Clone(), true
}

// Replace overwrites the stored record with the same id. Unknown ids are
// ignored and reported as false.
func (r *Registry) Replace(s models.Sensor) bool {
	i, ok := r.index[s.ID]
	if !ok {
		return false
	}
	s = s.Clone()
	activation.Normalize(&s)
	r.sensors[i] = s
	return true
}

// Select marks id as the selected sensor.
func (r *Registry) Select(id string) bool {
	if _, ok := r.index[id]; !ok {
		return false
	}
	r.selected = id
	return true
}

func (r *Registry) ClearSelection() {
	r.selected = ""
}

// Selected returns the selected sensor, if any.
func (r *Registry) Selected() (models.Sensor, bool) {
	if r.selected == "" {
		return models.Sensor{}, false
	}
	return r.FindByID(r.selected)
}
