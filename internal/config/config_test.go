package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirbo/go-sensormap/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.Backend != BackendSQL || cfg.FocusZoom != 20 || cfg.CallTimeoutMs != 5000 {
		t.Errorf("cfg = %+v", cfg)
	}
	if CallTimeout(cfg).Seconds() != 5 {
		t.Errorf("CallTimeout = %v", CallTimeout(cfg))
	}
	if len(cfg.Thresholds) != 3 {
		t.Errorf("thresholds = %v", cfg.Thresholds)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensormap.json")
	body := `{
		"backend": "rest",
		"rest": {"baseUrl": "http://api.local"},
		"thresholds": {"light": {"low": 100, "idealMin": 300, "idealMax": 700, "high": 900}},
		"scope": {"role": "technician", "userId": "t1"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("SENSORMAP_HTTP_PORT", "9000")
	t.Setenv("SENSORMAP_ENABLE_REDIS", "true")
	t.Setenv("SENSORMAP_SCOPE_USER", "t2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendREST || cfg.REST.BaseURL != "http://api.local" {
		t.Errorf("rest = %+v", cfg.REST)
	}
	if cfg.REST.BreakerFailures != 5 {
		t.Errorf("breaker default not merged: %+v", cfg.REST)
	}
	if cfg.HTTPPort != 9000 || !cfg.EnableRedis {
		t.Errorf("env not applied: port=%d redis=%v", cfg.HTTPPort, cfg.EnableRedis)
	}
	if cfg.Scope != (models.Scope{Role: "technician", UserID: "t2"}) {
		t.Errorf("scope = %+v", cfg.Scope)
	}
	if cfg.Thresholds["light"].Low != 100 {
		t.Errorf("light band = %+v", cfg.Thresholds["light"])
	}
	if _, ok := cfg.Thresholds["temperature"]; !ok {
		t.Error("default temperature band not merged")
	}
	if cfg.Redis.Port != "6379" {
		t.Errorf("redis port = %q", cfg.Redis.Port)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv(FileEnv, "")

	t.Setenv("SENSORMAP_HTTP_PORT", "http")
	if _, err := Load(); err == nil {
		t.Error("non-numeric port accepted")
	}

	t.Setenv("SENSORMAP_HTTP_PORT", "")
	t.Setenv("SENSORMAP_BACKEND", "ftp")
	if _, err := Load(); err == nil {
		t.Error("unknown backend accepted")
	}

	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.json"))
	t.Setenv("SENSORMAP_BACKEND", "")
	if _, err := Load(); err == nil {
		t.Error("missing config file accepted")
	}
}

func TestValidateThresholds(t *testing.T) {
	cfg := Defaults()
	cfg.Thresholds = map[string]models.Band{"moisture": {Low: 50, IdealMin: 40, IdealMax: 60, High: 80}}
	if err := Validate(cfg); err == nil {
		t.Fatal("unordered band accepted")
	}
}

func TestValidateScope(t *testing.T) {
	cfg := Defaults()
	cfg.Scope = models.Scope{Role: models.RoleFarmer}
	if err := Validate(cfg); !errors.Is(err, models.ErrScopeUserMissing) {
		t.Fatalf("Validate = %v, want ErrScopeUserMissing", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "sensor", "a")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, `"sensor":"a"`) {
		t.Errorf("json output = %q", out)
	}
}
