// Package socket renders the sensor map on browser clients over socket.io.
package socket

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	socketio "github.com/googollee/go-socket.io"

	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/models"
)

const (
	namespace = "/"
	room      = "map"

	EventMarkers      = "markers"
	EventMarkerAdd    = "marker:add"
	EventMarkerRemove = "marker:remove"
	EventFocus        = "focus"
	EventMarkerClick  = "marker:click"
)

// Focus is the payload of a focus event.
type Focus struct {
	Position models.Position `json:"position"`
	Zoom     float64         `json:"zoom"`
	Speed    float64         `json:"speed"`
}

type Snapshot func(ctx context.Context) ([]models.Marker, error)

// Engine implements mapsync.Engine by broadcasting marker changes to every
// connected client.
type Engine struct {
	server   *socketio.Server
	logger   *slog.Logger
	serving  atomic.Bool
	snapshot Snapshot
	onClick  func(sensorID string)
}

// New creates the engine. snapshot is sent to every client on connect and
// onClick receives the sensor ids clients click.
func New(logger *slog.Logger, snapshot Snapshot, onClick func(sensorID string)) (*Engine, error) {
	server, err := socketio.NewServer(nil)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		server:   server,
		logger:   logger.With("component", "socket"),
		snapshot: snapshot,
		onClick:  onClick,
	}

	server.OnConnect(namespace, e.connected)
	server.OnEvent(namespace, EventMarkerClick, e.clicked)
	server.OnError(namespace, func(s socketio.Conn, err error) {
		e.logger.Warn("socket error", "clients", server.Count(), "error", err)
		if s != nil {
			s.Close()
		}
	})
	server.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		e.logger.Debug("client disconnected", "id", s.ID(), "reason", reason, "clients", server.Count())
	})
	return e, nil
}

func (e *Engine) connected(s socketio.Conn) error {
	s.Join(room)
	e.logger.Debug("client connected", "id", s.ID(), "clients", e.server.Count())

	if e.snapshot == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	markers, err := e.snapshot(ctx)
	if err != nil {
		e.logger.Warn("marker snapshot failed", "error", err)
		return nil
	}
	s.Emit(EventMarkers, markers)
	return nil
}

func (e *Engine) clicked(s socketio.Conn, sensorID string) {
	if sensorID == "" || e.onClick == nil {
		return
	}
	e.onClick(sensorID)
}

// Start serves socket.io clients in the background until Close is called.
// Markers can be broadcast as soon as Start returns.
func (e *Engine) Start() {
	e.serving.Store(true)
	go func() {
		if err := e.server.Serve(); err != nil {
			e.logger.Error("socket server stopped", "error", err)
			e.serving.Store(false)
		}
	}()
}

func (e *Engine) Close() error {
	e.serving.Store(false)
	return e.server.Close()
}

func (e *Engine) Handler() http.Handler {
	return e.server
}

func (e *Engine) AddMarker(m models.Marker) error {
	return e.broadcast(EventMarkerAdd, m)
}

func (e *Engine) RemoveMarker(m models.Marker) error {
	return e.broadcast(EventMarkerRemove, m)
}

func (e *Engine) FlyTo(p models.Position, zoom, speed float64) error {
	return e.broadcast(EventFocus, Focus{Position: p, Zoom: zoom, Speed: speed})
}

func (e *Engine) broadcast(event string, payload interface{}) error {
	if !e.serving.Load() {
		return mapsync.ErrEngineUnavailable
	}
	e.server.BroadcastToRoom(namespace, room, event, payload)
	return nil
}
