package dashboard

import (
	"errors"
	"fmt"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
)

var (
	ErrSensorNotFound     = errors.New("sensor not found")
	ErrTransitionInFlight = errors.New("transition already in flight")
	ErrSuperseded         = errors.New("superseded by a newer load")
	ErrStopped            = errors.New("dashboard stopped")
)

// FetchError is a failed registry load. The registry is left empty.
type FetchError struct {
	Scope models.Scope
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch sensors (role=%q user=%q): %v", e.Scope.Role, e.Scope.UserID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransitionError is a failed activate or deactivate. The sensor keeps its
// previous state.
type TransitionError struct {
	SensorID string
	Action   activation.Action
	Err      error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s sensor %s: %v", e.Action, e.SensorID, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }
