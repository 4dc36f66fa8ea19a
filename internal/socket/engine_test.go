package socket

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/models"
)

func TestEngineUnavailableUntilStarted(t *testing.T) {
	var clicked []string
	e, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, func(id string) { clicked = append(clicked, id) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := models.Marker{SensorID: "a", Handle: 1}
	if err := e.AddMarker(m); !errors.Is(err, mapsync.ErrEngineUnavailable) {
		t.Fatalf("AddMarker before Start = %v", err)
	}

	e.Start()
	defer e.Close()

	if err := e.AddMarker(m); err != nil {
		t.Errorf("AddMarker: %v", err)
	}
	if err := e.FlyTo(models.Position{Latitude: 1}, 20, 0.75); err != nil {
		t.Errorf("FlyTo: %v", err)
	}
	if err := e.RemoveMarker(m); err != nil {
		t.Errorf("RemoveMarker: %v", err)
	}

	e.clicked(nil, "a")
	e.clicked(nil, "")
	if len(clicked) != 1 || clicked[0] != "a" {
		t.Errorf("clicked = %v", clicked)
	}
	if e.Handler() == nil {
		t.Error("no handler")
	}
}
