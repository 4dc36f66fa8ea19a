package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sony/gobreaker"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
)

func TestFetchSensorsPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", Options{})
	scopes := []models.Scope{
		{Role: models.RoleAdmin, UserID: "x"},
		{Role: models.RoleTechnician, UserID: "t 1"},
		{Role: models.RoleFarmer, UserID: "f1"},
		{Role: "guest"},
	}
	for _, s := range scopes {
		if _, err := c.FetchSensors(context.Background(), s); err != nil {
			t.Fatalf("FetchSensors(%+v): %v", s, err)
		}
	}

	want := []string{"/api/sensors", "/api/sensors/technician/t 1", "/api/sensors/customer/f1", "/api/sensors"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestFetchSensorsRejectsScopeWithoutUser(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, Options{})
	for _, s := range []models.Scope{{Role: models.RoleTechnician}, {Role: models.RoleCustomer}, {Role: models.RoleFarmer}} {
		got, err := c.FetchSensors(context.Background(), s)
		if !errors.Is(err, models.ErrScopeUserMissing) || got != nil {
			t.Errorf("FetchSensors(%+v) = %v, %v; want ErrScopeUserMissing", s, got, err)
		}
	}
	if calls != 0 {
		t.Errorf("api called %d times", calls)
	}
}

func TestFetchSensorsToleratesUnknownStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"S1","name":"North","status":"maintenance","rssi":-95,"battery":80,
			 "savedStatus":"asleep","savedRssi":-60},
			{"id":"S2","name":"South","status":"weak","rssi":-75}
		]`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, Options{}).FetchSensors(context.Background(), models.Scope{})
	if err != nil {
		t.Fatalf("FetchSensors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sensors, want 2", len(got))
	}
	if got[0].Status != models.StatusOffline {
		t.Errorf("S1 status = %q, want derived %q", got[0].Status, models.StatusOffline)
	}
	if got[0].SavedState == nil || got[0].SavedState.Status != models.StatusOnline {
		t.Errorf("S1 saved state = %+v, want derived online", got[0].SavedState)
	}
	if got[1].Status != models.StatusWeak {
		t.Errorf("S2 status = %q, want %q", got[1].Status, models.StatusWeak)
	}
}

func TestFetchSensorsMapsNullReadings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"S1","name":"North","latitude":14.6,"longitude":121.0,"status":"online",
			 "rssi":-62,"packetLoss":3,"battery":77,"temperature":null,"moisture":41,"light":null,
			 "customer":{"userId":"c1","name":"Ana"},"technician":{"userId":"t1","name":"Ben"}},
			{"id":"S2","name":"South","latitude":0,"longitude":0,"status":"deactivate",
			 "rssi":null,"packetLoss":null,"battery":null,
			 "savedStatus":"weak","savedRssi":-80,"savedPacketLoss":12,"savedBattery":50,
			 "savedTemperature":66,"savedMoisture":22,"savedLight":300}
		]`))
	}))
	defer srv.Close()

	got, err := New(srv.URL, Options{}).FetchSensors(context.Background(), models.Scope{})
	if err != nil {
		t.Fatalf("FetchSensors: %v", err)
	}

	want := []models.Sensor{
		{
			ID:       "S1",
			Name:     "North",
			Position: models.Position{Latitude: 14.6, Longitude: 121.0},
			Status:   models.StatusOnline,
			Telemetry: models.Telemetry{
				RSSI: -62, PacketLoss: 3, Battery: 77, Moisture: 41,
			},
			CustomerID: "c1", Customer: "Ana",
			TechnicianID: "t1", Technician: "Ben",
		},
		{
			ID:        "S2",
			Name:      "South",
			Status:    models.StatusDeactivated,
			Telemetry: models.PoweredOff(),
			SavedState: &models.SavedState{
				Status: models.StatusWeak,
				Telemetry: models.Telemetry{
					RSSI: -80, PacketLoss: 12, Battery: 50, Temperature: 66, Moisture: 22, Light: 300,
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransitionErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		switch r.URL.Path {
		case "/api/sensors/ok/deactivate":
			w.Write([]byte(`{"id":"ok","status":"deactivated","rssi":-120,"packetLoss":0,"battery":0,
				"savedStatus":"online","savedRssi":-50,"savedPacketLoss":0,"savedBattery":90}`))
		case "/api/sensors/missing/activate":
			w.WriteHeader(http.StatusNotFound)
		case "/api/sensors/blank/activate":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"No saved state to restore"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, Options{})
	ctx := context.Background()

	s, err := c.DeactivateSensor(ctx, "ok")
	if err != nil {
		t.Fatalf("DeactivateSensor: %v", err)
	}
	if s.Status != models.StatusDeactivated || s.SavedState == nil || s.SavedState.Telemetry.RSSI != -50 {
		t.Errorf("sensor = %+v", s)
	}

	if _, err := c.ActivateSensor(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing = %v", err)
	}
	if _, err := c.ActivateSensor(ctx, "blank"); !errors.Is(err, activation.ErrNoSavedState) {
		t.Errorf("blank = %v", err)
	}
	if _, err := c.ActivateSensor(ctx, "boom"); err == nil {
		t.Error("500 did not fail")
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{BreakerFailures: 2, BreakerOpenFor: time.Minute})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.FetchSensors(ctx, models.Scope{}); err == nil {
			t.Fatal("expected upstream error")
		}
	}

	_, err := c.FetchSensors(ctx, models.Scope{})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("third call = %v, want open breaker", err)
	}
	if hits != 2 {
		t.Errorf("server hit %d times", hits)
	}
	if c.Ready(ctx) == nil {
		t.Error("Ready with open breaker")
	}
}

func TestNotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		if _, err := c.ActivateSensor(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("call %d = %v", i, err)
		}
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := New(srv.URL, Options{}).FetchSensors(ctx, models.Scope{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
