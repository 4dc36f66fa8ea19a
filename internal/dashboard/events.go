package dashboard

import (
	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
)

// event is anything the loop reacts to. Requests carry a reply channel with
// room for exactly one result so the loop never blocks on a caller.
type event interface{}

type result struct {
	view    View
	sensor  models.Sensor
	markers []models.Marker
	err     error
}

type reply chan result

func newReply() reply {
	return make(reply, 1)
}

type loadRequested struct {
	scope models.Scope
	reply reply
}

type loadCompleted struct {
	seq     uint64
	scope   models.Scope
	sensors []models.Sensor
	err     error
	reply   reply
}

type searchChanged struct {
	keyword string
	reply   reply
}

type selectionRequested struct {
	sensorID string
	toggle   bool
	reply    reply
}

type markerClicked struct {
	sensorID string
}

type focusRequested struct {
	sensorID string
	reply    reply
}

type transitionRequested struct {
	action   activation.Action
	sensorID string
	reply    reply
}

type transitionCompleted struct {
	action   activation.Action
	sensorID string
	sensor   models.Sensor
	err      error
	reply    reply
}

// pushReceived carries either a full record or, when Status is empty, a
// reading for an existing sensor.
type pushReceived struct {
	sensor models.Sensor
}

type viewRequested struct {
	reply reply
}

type markersRequested struct {
	reply reply
}
