// Package history writes accepted sensor states to InfluxDB.
package history

import (
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/signal"
)

const Measurement = "sensor_state"

// PointWriter is the non-blocking part of the influx write API.
type PointWriter interface {
	WritePoint(point *write.Point)
}

// Recorder turns sensor states into points. It never blocks the caller.
type Recorder struct {
	writer PointWriter
	now    func() time.Time
}

func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{writer: w, now: time.Now}
}

func (r *Recorder) Record(s models.Sensor) {
	r.writer.WritePoint(Point(s, r.now()))
}

// Point maps one sensor state to an influx point.
func Point(s models.Sensor, at time.Time) *write.Point {
	tags := map[string]string{
		"sensor_id": s.ID,
		"status":    string(s.Status),
	}
	if s.TechnicianID != "" {
		tags["technician_id"] = s.TechnicianID
	}
	if s.CustomerID != "" {
		tags["customer_id"] = s.CustomerID
	}

	t := s.Telemetry
	fields := map[string]interface{}{
		"rssi":         t.RSSI,
		"signal_level": signal.Level(t.RSSI),
		"packet_loss":  t.PacketLoss,
		"battery":      t.Battery,
		"temperature":  t.Temperature,
		"moisture":     t.Moisture,
		"light":        t.Light,
		"deactivated":  s.Deactivated(),
	}
	return influxdb2.NewPoint(Measurement, tags, fields, at)
}

// Sink owns the influx client behind a Recorder.
type Sink struct {
	*Recorder
	client  influxdb2.Client
	done    chan struct{}
	stopped <-chan struct{}
}

// Open connects to influx and starts logging asynchronous write errors.
func Open(cfg models.InfluxConfig, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	done := make(chan struct{})
	return &Sink{
		Recorder: NewRecorder(writeAPI),
		client:   client,
		done:     done,
		stopped:  logErrors(writeAPI.Errors(), done, logger.With("component", "history")),
	}, nil
}

// logErrors logs write errors until errs is closed or done is. Errors already
// queued when done closes are still logged.
func logErrors(errs <-chan error, done <-chan struct{}, log *slog.Logger) <-chan struct{} {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case err, ok := <-errs:
				if !ok {
					return
				}
				log.Warn("influx write failed", "error", err)
			case <-done:
				for {
					select {
					case err, ok := <-errs:
						if !ok {
							return
						}
						log.Warn("influx write failed", "error", err)
					default:
						return
					}
				}
			}
		}
	}()
	return stopped
}

// Close flushes pending points, closes the client and waits until the errors
// of the final flush are logged.
func (s *Sink) Close() {
	s.client.Close()
	close(s.done)
	<-s.stopped
}
