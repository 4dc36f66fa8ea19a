// Package activation implements the active/deactivated lifecycle of a sensor.
//
// The functions here mutate a sensor in place and are shared by every
// backend, so a SQL store, a REST backend and the dashboard agree on what a
// transition does.
package activation

import (
	"errors"

	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/signal"
)

// ErrNoSavedState is returned when activating a sensor that was never
// snapshotted, e.g. one that was created switched off.
var ErrNoSavedState = errors.New("no saved state to restore")

type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)

// Deactivate snapshots the current readings and switches the sensor off.
// It reports false when the sensor was already deactivated.
func Deactivate(s *models.Sensor) bool {
	if s.Deactivated() {
		return false
	}

	s.SavedState = &models.SavedState{
		Status:    s.Status,
		Telemetry: s.Telemetry,
	}
	s.Telemetry = models.PoweredOff()
	s.Status = models.StatusDeactivated
	return true
}

// Activate restores the snapshot taken by Deactivate and derives the status
// from the restored rssi. The snapshot is kept. It reports false when the
// sensor was not deactivated.
func Activate(s *models.Sensor) (bool, error) {
	if !s.Deactivated() {
		return false, nil
	}
	if err := CanActivate(*s); err != nil {
		return false, err
	}

	s.Telemetry = s.SavedState.Telemetry
	s.Status = signal.StatusFor(s.Telemetry.RSSI)
	return true, nil
}

// CanActivate reports ErrNoSavedState for a deactivated sensor without a
// usable snapshot. A snapshot of a switched-off reading is not usable.
func CanActivate(s models.Sensor) error {
	if !s.Deactivated() {
		return nil
	}
	if s.SavedState == nil || s.SavedState.Telemetry.IsPoweredOff() {
		return ErrNoSavedState
	}
	return nil
}

// Apply runs the transition named by a.
func Apply(a Action, s *models.Sensor) (bool, error) {
	switch a {
	case ActionActivate:
		return Activate(s)
	case ActionDeactivate:
		return Deactivate(s), nil
	}
	return false, errors.New("unknown action " + string(a))
}

// Normalize makes a record coming from outside consistent: a deactivated
// sensor carries the switched-off reading, a switched-off reading means the
// sensor is deactivated, and any other status is derived from the rssi.
func Normalize(s *models.Sensor) {
	switch {
	case s.Deactivated():
		s.Telemetry = models.PoweredOff()
	case s.Telemetry.IsPoweredOff():
		s.Status = models.StatusDeactivated
		s.Telemetry = models.PoweredOff()
	default:
		s.Status = signal.StatusFor(s.Telemetry.RSSI)
	}
}
