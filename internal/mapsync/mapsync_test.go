package mapsync

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kirbo/go-sensormap/internal/models"
)

type fakeEngine struct {
	live    map[uint64]models.Marker
	flights []models.Position
	zoom    float64
	speed   float64
	failOn  string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{live: make(map[uint64]models.Marker)}
}

func (f *fakeEngine) AddMarker(m models.Marker) error {
	if f.failOn == "add" {
		return ErrEngineUnavailable
	}
	f.live[m.Handle] = m
	return nil
}

func (f *fakeEngine) RemoveMarker(m models.Marker) error {
	if f.failOn == "remove" {
		return ErrEngineUnavailable
	}
	delete(f.live, m.Handle)
	return nil
}

func (f *fakeEngine) FlyTo(p models.Position, zoom, speed float64) error {
	if f.failOn == "fly" {
		return ErrEngineUnavailable
	}
	f.flights = append(f.flights, p)
	f.zoom, f.speed = zoom, speed
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sensors() []models.Sensor {
	return []models.Sensor{
		{ID: "a", Name: "A", Status: models.StatusOnline, Position: models.Position{Latitude: 1, Longitude: 2}},
		{ID: "b", Name: "B", Status: models.StatusWeak, Position: models.Position{Latitude: 3, Longitude: 4}},
		{ID: "c", Name: "C", Status: models.StatusDeactivated, Position: models.Position{Latitude: 5, Longitude: 6}},
	}
}

// oneToOne checks that the engine shows exactly the layer's markers.
func oneToOne(t *testing.T, l *Layer, f *fakeEngine, wantIDs ...string) {
	t.Helper()
	if len(f.live) != len(wantIDs) {
		t.Fatalf("engine has %d markers, want %d", len(f.live), len(wantIDs))
	}
	for _, id := range wantIDs {
		m, ok := l.Marker(id)
		if !ok {
			t.Fatalf("no marker for %s", id)
		}
		if live, ok := f.live[m.Handle]; !ok || live.SensorID != id {
			t.Fatalf("marker of %s not on engine", id)
		}
	}
}

func TestRenderAllIsOneToOne(t *testing.T) {
	f := newFakeEngine()
	l := New(f, discard(), 0)

	if err := l.RenderAll(sensors()); err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	oneToOne(t, l, f, "a", "b", "c")

	if err := l.RenderAll(sensors()[:2]); err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	oneToOne(t, l, f, "a", "b")

	want := map[string]string{"a": "#3c8e3f", "b": "#e6b800"}
	for id, color := range want {
		m, _ := l.Marker(id)
		if m.Color != color {
			t.Errorf("%s color = %s, want %s", id, m.Color, color)
		}
	}
}

func TestUpdateOneRecreatesMarker(t *testing.T) {
	f := newFakeEngine()
	l := New(f, discard(), 0)
	l.RenderAll(sensors())

	old, _ := l.Marker("b")
	updated := sensors()[1]
	updated.Status = models.StatusOffline
	if err := l.UpdateOne(updated); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}

	m, _ := l.Marker("b")
	if m.Handle == old.Handle {
		t.Error("marker was mutated in place")
	}
	if m.Color != Color(models.StatusOffline) {
		t.Errorf("color = %s", m.Color)
	}
	oneToOne(t, l, f, "a", "b", "c")
}

func TestClickSelects(t *testing.T) {
	l := New(newFakeEngine(), discard(), 0)
	var selected []string
	l.OnSelect(func(id string) { selected = append(selected, id) })
	l.RenderAll(sensors())

	if !l.Click("c") {
		t.Fatal("Click(c) = false")
	}
	if l.Click("zzz") {
		t.Fatal("Click on unknown marker = true")
	}
	if len(selected) != 1 || selected[0] != "c" {
		t.Errorf("selected = %v", selected)
	}
}

func TestFocusLeavesMarkers(t *testing.T) {
	f := newFakeEngine()
	l := New(f, discard(), 0)
	l.RenderAll(sensors())
	before := l.Markers()

	if err := l.Focus(sensors()[1]); err != nil {
		t.Fatalf("Focus: %v", err)
	}
	if len(f.flights) != 1 || f.flights[0] != sensors()[1].Position {
		t.Fatalf("flights = %v", f.flights)
	}
	if f.zoom != DefaultFocusZoom || f.speed != DefaultFocusSpeed {
		t.Errorf("zoom/speed = %v/%v", f.zoom, f.speed)
	}

	after := l.Markers()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("marker %d changed on focus", i)
		}
	}
}

func TestEngineFailureDisablesLayer(t *testing.T) {
	f := newFakeEngine()
	l := New(f, discard(), 0)
	l.RenderAll(sensors())

	f.failOn = "add"
	err := l.UpdateOne(sensors()[0])
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("UpdateOne err = %v", err)
	}
	if l.Available() {
		t.Fatal("layer still available after failure")
	}
	if len(l.Markers()) != 0 {
		t.Errorf("markers kept after failure: %d", len(l.Markers()))
	}

	f.failOn = ""
	if err := l.RenderAll(sensors()); err != nil {
		t.Errorf("disabled layer returned %v", err)
	}
	if err := l.Focus(sensors()[0]); err != nil {
		t.Errorf("disabled layer returned %v", err)
	}
}

func TestNilEngine(t *testing.T) {
	l := New(nil, discard(), 0)
	if l.Available() {
		t.Fatal("nil engine layer is available")
	}
	if err := l.RenderAll(sensors()); err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if len(l.Markers()) != 0 {
		t.Fatal("nil engine layer has markers")
	}
}

func TestColorUnknownStatus(t *testing.T) {
	if Color("bogus") != Color(models.StatusDeactivated) {
		t.Error("unknown status is not gray")
	}
	if ColorName(models.StatusOffline) != "red" {
		t.Error("offline is not red")
	}
}
