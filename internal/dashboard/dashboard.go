// Package dashboard runs the event loop that owns the sensor registry, the
// map layer and the detail panel.
//
// All state lives on one goroutine (Run). Public methods post events and wait
// for the loop's answer; collaborator calls run on their own goroutines and
// report back as events, so searching and selecting keep working while a
// load or a transition is outstanding.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/metrics"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/projection"
	"github.com/kirbo/go-sensormap/internal/registry"
	"github.com/kirbo/go-sensormap/internal/threshold"
)

// Backend stores sensors and performs transitions authoritatively.
type Backend interface {
	FetchSensors(ctx context.Context, scope models.Scope) ([]models.Sensor, error)
	ActivateSensor(ctx context.Context, id string) (models.Sensor, error)
	DeactivateSensor(ctx context.Context, id string) (models.Sensor, error)
}

// Subscriber pushes updates of a single sensor until unsubscribed.
type Subscriber interface {
	Subscribe(id string, onChange func(models.Sensor)) (func(), error)
}

// Recorder is told about every sensor state the dashboard accepts.
type Recorder interface {
	Record(s models.Sensor)
}

const DefaultCallTimeout = 5 * time.Second

type Options struct {
	CallTimeout time.Duration
	Evaluator   *threshold.Evaluator
	Subscriber  Subscriber
	Recorder    Recorder
}

// View is what the UI renders.
type View struct {
	Keyword       string            `json:"keyword"`
	Sensors       []models.Sensor   `json:"sensors"`
	NoResultFound bool              `json:"noResultFound"`
	Selected      *models.Sensor    `json:"selected"`
	Panel         *projection.Panel `json:"panel"`
	Pending       []string          `json:"pending"`
	MapAvailable  bool              `json:"mapAvailable"`
	LastError     string            `json:"lastError,omitempty"`
}

type Dashboard struct {
	backend Backend
	layer   *mapsync.Layer
	logger  *slog.Logger
	opts    Options

	reg     *registry.Registry
	proj    *projection.Projector
	keyword string
	pending map[string]activation.Action
	unsubs  map[string]func()
	loadSeq uint64
	lastErr string

	events chan event
	done   chan struct{}
}

// New wires a dashboard. The layer may wrap a nil engine, in which case the
// dashboard works without a map.
func New(backend Backend, layer *mapsync.Layer, logger *slog.Logger, opts Options) *Dashboard {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Evaluator == nil {
		opts.Evaluator, _ = threshold.New(nil)
	}

	d := &Dashboard{
		backend: backend,
		layer:   layer,
		logger:  logger.With("component", "dashboard"),
		opts:    opts,
		reg:     registry.New(),
		proj:    projection.New(opts.Evaluator),
		pending: make(map[string]activation.Action),
		unsubs:  make(map[string]func()),
		events:  make(chan event),
		done:    make(chan struct{}),
	}
	layer.OnSelect(d.selectSensor)
	return d
}

// Run processes events until ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	defer close(d.done)
	defer d.unsubscribeAll()

	d.logger.Info("dashboard loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dashboard loop stopped")
			return nil
		case ev := <-d.events:
			d.handle(ctx, ev)
		}
	}
}

// Reload replaces the registry with the sensors visible to scope.
func (d *Dashboard) Reload(ctx context.Context, scope models.Scope) error {
	_, err := d.request(ctx, func(r reply) event { return loadRequested{scope: scope, reply: r} })
	return err
}

// Search sets the filter keyword.
func (d *Dashboard) Search(ctx context.Context, keyword string) (View, error) {
	res, err := d.request(ctx, func(r reply) event { return searchChanged{keyword: keyword, reply: r} })
	return res.view, err
}

// Select makes id the selected sensor.
func (d *Dashboard) Select(ctx context.Context, id string) (View, error) {
	res, err := d.request(ctx, func(r reply) event { return selectionRequested{sensorID: id, reply: r} })
	return res.view, err
}

// ToggleSelection selects id, or clears the selection if id is already selected.
func (d *Dashboard) ToggleSelection(ctx context.Context, id string) (View, error) {
	res, err := d.request(ctx, func(r reply) event { return selectionRequested{sensorID: id, toggle: true, reply: r} })
	return res.view, err
}

// Focus centers the map on a sensor.
func (d *Dashboard) Focus(ctx context.Context, id string) error {
	_, err := d.request(ctx, func(r reply) event { return focusRequested{sensorID: id, reply: r} })
	return err
}

// Activate switches a sensor back on through the backend.
func (d *Dashboard) Activate(ctx context.Context, id string) (models.Sensor, error) {
	return d.transition(ctx, activation.ActionActivate, id)
}

// Deactivate switches a sensor off through the backend.
func (d *Dashboard) Deactivate(ctx context.Context, id string) (models.Sensor, error) {
	return d.transition(ctx, activation.ActionDeactivate, id)
}

// View returns the current view.
func (d *Dashboard) View(ctx context.Context) (View, error) {
	res, err := d.request(ctx, func(r reply) event { return viewRequested{reply: r} })
	return res.view, err
}

// Markers returns the markers currently rendered.
func (d *Dashboard) Markers(ctx context.Context) ([]models.Marker, error) {
	res, err := d.request(ctx, func(r reply) event { return markersRequested{reply: r} })
	return res.markers, err
}

// MarkerClicked reports a click coming from the map engine. It may be called
// from any goroutine.
func (d *Dashboard) MarkerClicked(id string) {
	d.post(markerClicked{sensorID: id})
}

func (d *Dashboard) transition(ctx context.Context, action activation.Action, id string) (models.Sensor, error) {
	res, err := d.request(ctx, func(r reply) event {
		return transitionRequested{action: action, sensorID: id, reply: r}
	})
	return res.sensor, err
}

func (d *Dashboard) request(ctx context.Context, build func(reply) event) (result, error) {
	r := newReply()
	select {
	case d.events <- build(r):
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-d.done:
		return result{}, ErrStopped
	}

	select {
	case res := <-r:
		return res, res.err
	case <-ctx.Done():
		return result{}, ctx.Err()
	case <-d.done:
		return result{}, ErrStopped
	}
}

func (d *Dashboard) post(ev event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

func (d *Dashboard) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case loadRequested:
		d.startLoad(ctx, ev)
	case loadCompleted:
		d.finishLoad(ev)
	case searchChanged:
		d.keyword = ev.keyword
		ev.reply <- result{view: d.view()}
	case selectionRequested:
		d.handleSelection(ev)
	case markerClicked:
		if !d.layer.Click(ev.sensorID) {
			d.logger.Debug("click on unknown marker", "sensor", ev.sensorID)
		}
	case focusRequested:
		d.handleFocus(ev)
	case transitionRequested:
		d.startTransition(ctx, ev)
	case transitionCompleted:
		d.finishTransition(ev)
	case pushReceived:
		d.handlePush(ev.sensor)
	case viewRequested:
		ev.reply <- result{view: d.view()}
	case markersRequested:
		ev.reply <- result{markers: d.layer.Markers()}
	default:
		d.logger.Warn("unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (d *Dashboard) startLoad(ctx context.Context, ev loadRequested) {
	d.loadSeq++
	seq := d.loadSeq
	timeout := d.opts.CallTimeout

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		sensors, err := d.backend.FetchSensors(callCtx, ev.scope)
		d.post(loadCompleted{seq: seq, scope: ev.scope, sensors: sensors, err: err, reply: ev.reply})
	}()
}

func (d *Dashboard) finishLoad(ev loadCompleted) {
	if ev.seq != d.loadSeq {
		d.logger.Debug("dropping stale load", "role", ev.scope.Role, "user", ev.scope.UserID)
		ev.reply <- result{err: ErrSuperseded}
		return
	}

	var err error
	if ev.err != nil {
		err = &FetchError{Scope: ev.scope, Err: ev.err}
		d.logger.Error("sensor fetch failed", "role", ev.scope.Role, "user", ev.scope.UserID, "error", ev.err)
		metrics.Loads.WithLabelValues("failure").Inc()
		d.lastErr = err.Error()
		ev.sensors = nil
	} else {
		metrics.Loads.WithLabelValues("success").Inc()
		d.lastErr = ""
	}

	d.reg.Load(ev.sensors)
	metrics.Sensors.Set(float64(d.reg.Len()))
	d.resubscribe()
	d.render(d.layer.RenderAll(d.reg.All()))
	d.refreshPanel()

	for _, s := range d.reg.All() {
		d.record(s)
	}

	d.logger.Info("registry loaded", "sensors", d.reg.Len(), "role", ev.scope.Role)
	ev.reply <- result{view: d.view(), err: err}
}

func (d *Dashboard) handleSelection(ev selectionRequested) {
	if _, ok := d.reg.FindByID(ev.sensorID); !ok {
		ev.reply <- result{view: d.view(), err: ErrSensorNotFound}
		return
	}

	if sel, ok := d.reg.Selected(); ok && ev.toggle && sel.ID == ev.sensorID {
		d.reg.ClearSelection()
		d.proj.Clear()
	} else {
		d.selectSensor(ev.sensorID)
	}
	ev.reply <- result{view: d.view()}
}

// selectSensor is also the callback attached to every marker.
func (d *Dashboard) selectSensor(id string) {
	if !d.reg.Select(id) {
		return
	}
	d.refreshPanel()
}

func (d *Dashboard) handleFocus(ev focusRequested) {
	s, ok := d.reg.FindByID(ev.sensorID)
	if !ok {
		ev.reply <- result{err: ErrSensorNotFound}
		return
	}
	d.render(d.layer.Focus(s))
	ev.reply <- result{view: d.view()}
}

func (d *Dashboard) startTransition(ctx context.Context, ev transitionRequested) {
	fail := func(err error) {
		metrics.Transitions.WithLabelValues(string(ev.action), "rejected").Inc()
		ev.reply <- result{err: &TransitionError{SensorID: ev.sensorID, Action: ev.action, Err: err}}
	}

	s, ok := d.reg.FindByID(ev.sensorID)
	if !ok {
		fail(ErrSensorNotFound)
		return
	}
	if _, busy := d.pending[ev.sensorID]; busy {
		fail(ErrTransitionInFlight)
		return
	}

	switch ev.action {
	case activation.ActionDeactivate:
		if s.Deactivated() {
			ev.reply <- result{sensor: s}
			return
		}
	case activation.ActionActivate:
		if !s.Deactivated() {
			ev.reply <- result{sensor: s}
			return
		}
		if err := activation.CanActivate(s); err != nil {
			fail(err)
			return
		}
	}

	d.pending[ev.sensorID] = ev.action
	timeout := d.opts.CallTimeout
	call := d.backend.DeactivateSensor
	if ev.action == activation.ActionActivate {
		call = d.backend.ActivateSensor
	}

	go func() {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		updated, err := call(callCtx, ev.sensorID)
		metrics.ObserveTransition(string(ev.action), start)
		d.post(transitionCompleted{action: ev.action, sensorID: ev.sensorID, sensor: updated, err: err, reply: ev.reply})
	}()
}

func (d *Dashboard) finishTransition(ev transitionCompleted) {
	delete(d.pending, ev.sensorID)

	if ev.err != nil {
		err := &TransitionError{SensorID: ev.sensorID, Action: ev.action, Err: ev.err}
		d.logger.Error("sensor transition failed", "sensor", ev.sensorID, "action", ev.action, "error", ev.err)
		metrics.Transitions.WithLabelValues(string(ev.action), "failure").Inc()
		d.lastErr = err.Error()
		ev.reply <- result{err: err}
		return
	}

	updated := ev.sensor
	if updated.ID == "" {
		updated.ID = ev.sensorID
	}
	metrics.Transitions.WithLabelValues(string(ev.action), "success").Inc()
	d.lastErr = ""

	if !d.reg.Replace(updated) {
		d.logger.Warn("transitioned sensor no longer loaded", "sensor", updated.ID)
		ev.reply <- result{sensor: updated}
		return
	}

	current, _ := d.reg.FindByID(updated.ID)
	d.render(d.layer.UpdateOne(current))
	d.refreshPanel()
	d.record(current)

	d.logger.Info("sensor transitioned", "sensor", current.ID, "action", ev.action, "status", current.Status)
	ev.reply <- result{sensor: current}
}

func (d *Dashboard) handlePush(incoming models.Sensor) {
	existing, ok := d.reg.FindByID(incoming.ID)
	if !ok {
		metrics.Pushes.WithLabelValues("unknown").Inc()
		return
	}

	// Anything but a transition record is a reading: it cannot switch the
	// sensor on or off, and a switched-off sensor takes no readings.
	if !incoming.Transitioned {
		if existing.Deactivated() {
			metrics.Pushes.WithLabelValues("ignored").Inc()
			return
		}
		if incoming.Status == "" {
			reading := existing
			reading.Telemetry = incoming.Telemetry
			incoming = reading
		} else {
			incoming.SavedState = existing.SavedState
		}
		activation.Normalize(&incoming)
		if incoming.Deactivated() {
			metrics.Pushes.WithLabelValues("ignored").Inc()
			return
		}
	}
	incoming.Transitioned = false

	d.reg.Replace(incoming)
	current, _ := d.reg.FindByID(incoming.ID)
	if current.Status != existing.Status || current.Position != existing.Position {
		d.render(d.layer.UpdateOne(current))
	}
	d.refreshPanel()
	d.record(current)
	metrics.Pushes.WithLabelValues("applied").Inc()
}

func (d *Dashboard) refreshPanel() {
	sel, ok := d.reg.Selected()
	if !ok {
		d.proj.Clear()
		return
	}
	d.proj.Refresh(sel)
}

func (d *Dashboard) render(err error) {
	if err != nil {
		metrics.RenderFailures.Inc()
		d.logger.Warn("map render failed, continuing without map", "error", err)
	}
	metrics.Markers.Set(float64(len(d.layer.Markers())))
}

func (d *Dashboard) record(s models.Sensor) {
	if d.opts.Recorder != nil {
		d.opts.Recorder.Record(s)
	}
}

func (d *Dashboard) resubscribe() {
	d.unsubscribeAll()
	if d.opts.Subscriber == nil {
		return
	}

	for _, s := range d.reg.All() {
		unsub, err := d.opts.Subscriber.Subscribe(s.ID, func(update models.Sensor) {
			update.ID = s.ID
			d.post(pushReceived{sensor: update})
		})
		if err != nil {
			d.logger.Warn("subscribe failed", "sensor", s.ID, "error", err)
			continue
		}
		d.unsubs[s.ID] = unsub
	}
}

func (d *Dashboard) unsubscribeAll() {
	for id, unsub := range d.unsubs {
		unsub()
		delete(d.unsubs, id)
	}
}

func (d *Dashboard) view() View {
	v := View{
		Keyword:       d.keyword,
		Sensors:       d.reg.Filter(d.keyword),
		NoResultFound: d.reg.NoResults(d.keyword),
		Pending:       make([]string, 0, len(d.pending)),
		MapAvailable:  d.layer.Available(),
		LastError:     d.lastErr,
	}
	if sel, ok := d.reg.Selected(); ok {
		v.Selected = &sel
	}
	if panel, ok := d.proj.Current(); ok {
		v.Panel = &panel
	}
	for id := range d.pending {
		v.Pending = append(v.Pending, id)
	}
	sort.Strings(v.Pending)
	return v
}

// IsTransitionFailure reports whether err came from a failed activate or
// deactivate.
func IsTransitionFailure(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// IsFetchFailure reports whether err came from a failed registry load.
func IsFetchFailure(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
