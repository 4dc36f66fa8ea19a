package history

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kirbo/go-sensormap/internal/models"
)

type memoryWriter struct {
	points []*write.Point
}

func (m *memoryWriter) WritePoint(p *write.Point) {
	m.points = append(m.points, p)
}

func TestRecorderWritesPoint(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := &memoryWriter{}
	r := NewRecorder(w)
	r.now = func() time.Time { return at }

	r.Record(models.Sensor{
		ID:         "S-1",
		Status:     models.StatusWeak,
		CustomerID: "c1",
		Telemetry:  models.Telemetry{RSSI: -80, Battery: 40, Moisture: 22.5},
	})

	if len(w.points) != 1 {
		t.Fatalf("points = %d", len(w.points))
	}
	p := w.points[0]
	if p.Name() != Measurement || !p.Time().Equal(at) {
		t.Errorf("point = %s @ %v", p.Name(), p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["sensor_id"] != "S-1" || tags["status"] != "weak" || tags["customer_id"] != "c1" {
		t.Errorf("tags = %v", tags)
	}
	if _, ok := tags["technician_id"]; ok {
		t.Error("empty technician tag written")
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["rssi"] != int64(-80) || fields["signal_level"] != int64(2) {
		t.Errorf("rssi fields = %v / %v", fields["rssi"], fields["signal_level"])
	}
	if fields["moisture"] != 22.5 || fields["deactivated"] != false {
		t.Errorf("fields = %v", fields)
	}
}

func TestLogErrorsDrainsAfterDone(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	errs := make(chan error, 2)
	errs <- errors.New("bucket not found")
	errs <- errors.New("unauthorized")
	done := make(chan struct{})
	close(done)

	select {
	case <-logErrors(errs, done, log):
	case <-time.After(time.Second):
		t.Fatal("logger did not stop")
	}
	if n := strings.Count(buf.String(), "influx write failed"); n != 2 {
		t.Errorf("logged %d errors, want 2:\n%s", n, buf.String())
	}

	closed := make(chan error)
	close(closed)
	select {
	case <-logErrors(closed, make(chan struct{}), log):
	case <-time.After(time.Second):
		t.Fatal("logger did not stop on closed errors")
	}
}
