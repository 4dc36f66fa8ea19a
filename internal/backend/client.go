// Package backend talks to the sensor REST API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/signal"
)

var ErrNotFound = errors.New("sensor not found")

type Options struct {
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
	Logger          *slog.Logger
}

// Client is a REST backend guarded by a circuit breaker.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:   &http.Client{Timeout: opts.Timeout},
		logger: opts.Logger.With("component", "rest-backend"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sensor-backend",
			Timeout: opts.BreakerOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, activation.ErrNoSavedState)
			},
		}),
	}
}

// Ready fails while the circuit breaker is open.
func (c *Client) Ready(context.Context) error {
	if c.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return nil
}

// FetchSensors lists the sensors visible to scope.
func (c *Client) FetchSensors(ctx context.Context, scope models.Scope) ([]models.Sensor, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	path := "/api/sensors"
	switch {
	case scope.Technician():
		path += "/technician/" + url.PathEscape(scope.UserID)
	case scope.Customer():
		path += "/customer/" + url.PathEscape(scope.UserID)
	}

	var list []apiSensor
	if err := c.do(ctx, http.MethodGet, path, &list); err != nil {
		return nil, err
	}

	sensors := make([]models.Sensor, 0, len(list))
	for _, a := range list {
		sensors = append(sensors, c.toSensor(a))
	}
	return sensors, nil
}

func (c *Client) ActivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return c.transition(ctx, id, activation.ActionActivate)
}

func (c *Client) DeactivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return c.transition(ctx, id, activation.ActionDeactivate)
}

func (c *Client) transition(ctx context.Context, id string, action activation.Action) (models.Sensor, error) {
	var out apiSensor
	path := fmt.Sprintf("/api/sensors/%s/%s", url.PathEscape(id), action)
	if err := c.do(ctx, http.MethodPut, path, &out); err != nil {
		return models.Sensor{}, err
	}
	return c.toSensor(out), nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, statusError(method, path, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
		return nil, nil
	})
	return err
}

func statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var msg struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &msg)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(msg.Error), "saved state"):
		return fmt.Errorf("%w: %s", activation.ErrNoSavedState, msg.Error)
	}
	return fmt.Errorf("%s %s: upstream status %d", method, path, resp.StatusCode)
}

type apiUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// apiSensor is the wire shape of the REST API. Readings may be null.
type apiSensor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Status      string   `json:"status"`
	RSSI        *int     `json:"rssi"`
	PacketLoss  *float64 `json:"packetLoss"`
	Battery     *float64 `json:"battery"`
	Temperature *float64 `json:"temperature"`
	Moisture    *float64 `json:"moisture"`
	Light       *float64 `json:"light"`
	Customer    *apiUser `json:"customer"`
	Technician  *apiUser `json:"technician"`

	SavedStatus      *string  `json:"savedStatus"`
	SavedRSSI        *int     `json:"savedRssi"`
	SavedPacketLoss  *float64 `json:"savedPacketLoss"`
	SavedBattery     *float64 `json:"savedBattery"`
	SavedTemperature *float64 `json:"savedTemperature"`
	SavedMoisture    *float64 `json:"savedMoisture"`
	SavedLight       *float64 `json:"savedLight"`
}

// toSensor maps one wire record. An unknown status is logged and replaced by
// the one the readings imply, so a single odd record does not fail a load.
func (c *Client) toSensor(a apiSensor) models.Sensor {
	s := models.Sensor{
		ID:       a.ID,
		Name:     a.Name,
		Position: models.Position{Latitude: a.Latitude, Longitude: a.Longitude},
		Telemetry: models.Telemetry{
			RSSI:        intOr(a.RSSI, models.PoweredOffRSSI),
			PacketLoss:  floatOr(a.PacketLoss),
			Battery:     floatOr(a.Battery),
			Temperature: floatOr(a.Temperature),
			Moisture:    floatOr(a.Moisture),
			Light:       floatOr(a.Light),
		},
	}
	if a.Technician != nil {
		s.TechnicianID, s.Technician = a.Technician.UserID, a.Technician.Name
	}
	if a.Customer != nil {
		s.CustomerID, s.Customer = a.Customer.UserID, a.Customer.Name
	}
	status, ok := c.status(a.ID, "status", a.Status)
	if ok {
		s.Status = status
	} else {
		activation.Normalize(&s)
	}

	if a.SavedStatus != nil && *a.SavedStatus != "" {
		s.SavedState = &models.SavedState{
			Telemetry: models.Telemetry{
				RSSI:        intOr(a.SavedRSSI, models.PoweredOffRSSI),
				PacketLoss:  floatOr(a.SavedPacketLoss),
				Battery:     floatOr(a.SavedBattery),
				Temperature: floatOr(a.SavedTemperature),
				Moisture:    floatOr(a.SavedMoisture),
				Light:       floatOr(a.SavedLight),
			},
		}
		saved, ok := c.status(a.ID, "savedStatus", *a.SavedStatus)
		if !ok {
			saved = signal.StatusFor(s.SavedState.RSSI)
		}
		s.SavedState.Status = saved
	}
	return s
}

func (c *Client) status(id, field, raw string) (models.Status, bool) {
	var st models.Status
	if err := st.UnmarshalText([]byte(raw)); err != nil {
		c.logger.Warn("unknown sensor status", "sensor", id, "field", field, "status", raw)
		return "", false
	}
	return st, true
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
