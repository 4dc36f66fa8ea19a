package models

import (
	"fmt"
	"strings"
)

// Status is the qualitative health of a sensor.
type Status string

const (
	StatusOnline      Status = "online"
	StatusWeak        Status = "weak"
	StatusOffline     Status = "offline"
	StatusDeactivated Status = "deactivated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusWeak, StatusOffline, StatusDeactivated:
		return true
	}
	return false
}

// UnmarshalText accepts the legacy "deactivate" spelling used by older backends.
func (s *Status) UnmarshalText(b []byte) error {
	v := Status(strings.ToLower(strings.TrimSpace(string(b))))
	if v == "deactivate" {
		v = StatusDeactivated
	}
	if v != "" && !v.Valid() {
		return fmt.Errorf("unknown sensor status %q", string(b))
	}
	*s = v
	return nil
}

// PoweredOffRSSI is the rssi reported by a sensor that has been switched off.
const PoweredOffRSSI = -120

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Telemetry is the set of numeric readings of one sensor.
type Telemetry struct {
	RSSI        int     `json:"rssi"`
	PacketLoss  float64 `json:"packetLoss"`
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	Moisture    float64 `json:"moisture"`
	Light       float64 `json:"light"`
}

// PoweredOff returns the synthetic reading of a deactivated sensor.
func PoweredOff() Telemetry {
	return Telemetry{RSSI: PoweredOffRSSI}
}

// IsPoweredOff reports whether t carries the synthetic deactivated reading.
func (t Telemetry) IsPoweredOff() bool {
	return t.RSSI == PoweredOffRSSI && t.PacketLoss == 0 && t.Battery == 0
}

// SavedState is the snapshot taken when a sensor is deactivated.
type SavedState struct {
	Status Status `json:"status"`
	Telemetry
}

// Sensor type
type Sensor struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Position     Position    `json:"position"`
	Status       Status      `json:"status"`
	Telemetry    Telemetry   `json:"telemetry"`
	SavedState   *SavedState `json:"savedState"`
	TechnicianID string      `json:"technicianId,omitempty"`
	Technician   string      `json:"technician,omitempty"`
	CustomerID   string      `json:"customerId,omitempty"`
	Customer     string      `json:"customer,omitempty"`

	// Transitioned marks a pushed record a backend returned from an
	// activate or deactivate. Only such records may switch a sensor on or off.
	Transitioned bool `json:"transitioned,omitempty"`
}

// Clone returns a deep copy of the sensor.
func (s Sensor) Clone() Sensor {
	if s.SavedState != nil {
		saved := *s.SavedState
		s.SavedState = &saved
	}
	return s
}

// Deactivated reports whether the sensor is switched off.
func (s Sensor) Deactivated() bool {
	return s.Status == StatusDeactivated
}

// OwnerLabel is the display name of whoever the sensor belongs to.
func (s Sensor) OwnerLabel() string {
	switch {
	case s.Customer != "" && s.Technician != "":
		return fmt.Sprintf("%s (tech: %s)", s.Customer, s.Technician)
	case s.Customer != "":
		return s.Customer
	default:
		return s.Technician
	}
}

// Marker is the on-map representation of one sensor.
type Marker struct {
	SensorID string   `json:"sensorId"`
	Handle   uint64   `json:"handle"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
	Status   Status   `json:"status"`
	Color    string   `json:"color"`
}
