package projection

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/threshold"
)

func TestProject(t *testing.T) {
	eval, _ := threshold.New(nil)
	s := models.Sensor{
		ID:         "S-7",
		Name:       "Vineyard",
		Status:     models.StatusWeak,
		Customer:   "Ada",
		Technician: "Lin",
		Telemetry: models.Telemetry{
			RSSI:        -80,
			PacketLoss:  12,
			Battery:     45,
			Temperature: 90,
			Moisture:    45,
			Light:       150,
		},
	}

	want := Panel{
		SensorID:         "S-7",
		Name:             "Vineyard",
		Owner:            "Ada (tech: Lin)",
		Status:           models.StatusWeak,
		StatusColor:      "amber",
		SignalLevel:      2,
		SignalLabel:      "Weak",
		PacketLossLevel:  2,
		PacketLossLabel:  "Low",
		BatteryTier:      "yellow",
		TemperatureColor: threshold.Yellow,
		MoistureColor:    threshold.Green,
		LightColor:       threshold.Red,
		Telemetry:        s.Telemetry,
	}

	if diff := cmp.Diff(want, Project(eval, s)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	eval, _ := threshold.New(nil)
	p := New(eval)
	if _, ok := p.Current(); ok {
		t.Fatal("fresh projector has a panel")
	}

	s := models.Sensor{ID: "x", Status: models.StatusOnline, Telemetry: models.Telemetry{RSSI: -50, Battery: 99}}
	first := p.Refresh(s)
	second := p.Refresh(s)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("refresh not idempotent:\n%s", diff)
	}
	if cur, ok := p.Current(); !ok || cur != first {
		t.Fatal("Current does not return the refreshed panel")
	}

	p.Clear()
	if _, ok := p.Current(); ok {
		t.Fatal("Clear kept the panel")
	}
}
