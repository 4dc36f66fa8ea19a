// Package config loads the server configuration from defaults, an optional
// JSON file and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"

	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/threshold"
)

const (
	BackendSQL  = "sql"
	BackendREST = "rest"

	FileEnv = "SENSORMAP_CONFIG"
)

// Defaults returns the configuration used for every value left unset.
func Defaults() models.Config {
	return models.Config{
		HTTPPort:      8080,
		LogLevel:      "info",
		LogFormat:     "text",
		Backend:       BackendSQL,
		CallTimeoutMs: 5000,
		Interval:      10,
		FocusZoom:     mapsync.DefaultFocusZoom,
		Database: models.DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/sensormap.db",
		},
		REST: models.RESTConfig{
			BaseURL:         "http://localhost:5000",
			BreakerFailures: 5,
			BreakerOpenMs:   10000,
		},
		Redis: models.RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		MQTT: models.MQTTConfig{
			Host: "localhost",
			Port: 1883,
			User: models.MQTTUser{ClientID: "sensormap"},
		},
		Thresholds: map[string]models.Band{
			string(threshold.Temperature): threshold.DefaultBands[threshold.Temperature],
			string(threshold.Moisture):    threshold.DefaultBands[threshold.Moisture],
			string(threshold.Light):       threshold.DefaultBands[threshold.Light],
		},
		Scope:    models.Scope{Role: models.RoleAdmin},
		SeedFile: "./config.json",
	}
}

// Load reads SENSORMAP_CONFIG if set, applies SENSORMAP_* environment
// overrides and fills the rest from Defaults.
func Load() (models.Config, error) {
	var cfg models.Config

	if path := os.Getenv(FileEnv); path != "" {
		if err := readFile(path, &cfg); err != nil {
			return models.Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return models.Config{}, err
	}

	if err := mergo.Merge(&cfg, Defaults()); err != nil {
		return models.Config{}, fmt.Errorf("merge defaults: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *models.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func Validate(cfg models.Config) error {
	switch cfg.Backend {
	case BackendSQL:
		if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
			return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
		}
	case BackendREST:
		if cfg.REST.BaseURL == "" {
			return fmt.Errorf("rest backend needs a base url")
		}
	default:
		return fmt.Errorf("unsupported backend %q", cfg.Backend)
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", cfg.HTTPPort)
	}
	if _, err := threshold.New(cfg.Thresholds); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := cfg.Scope.Validate(); err != nil {
		return fmt.Errorf("scope: %w", err)
	}
	return nil
}

// CallTimeout is the deadline for one backend call.
func CallTimeout(cfg models.Config) time.Duration {
	return time.Duration(cfg.CallTimeoutMs) * time.Millisecond
}

func applyEnv(cfg *models.Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv("SENSORMAP_" + key); v != "" {
			*dst = v
		}
	}
	i32 := func(key string, dst *int32) error {
		v := getenv("SENSORMAP_" + key)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid SENSORMAP_%s: %w", key, err)
		}
		*dst = int32(n)
		return nil
	}
	flag := func(key string, dst *bool) error {
		v := getenv("SENSORMAP_" + key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SENSORMAP_%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("BACKEND", &cfg.Backend)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("REST_URL", &cfg.REST.BaseURL)
	str("REDIS_HOST", &cfg.Redis.Host)
	str("REDIS_PORT", &cfg.Redis.Port)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("MQTT_HOST", &cfg.MQTT.Host)
	str("MQTT_TOPIC", &cfg.MQTT.Topic)
	str("MQTT_USERNAME", &cfg.MQTT.User.Username)
	str("MQTT_PASSWORD", &cfg.MQTT.User.Password)
	str("INFLUX_URL", &cfg.Influx.URL)
	str("INFLUX_TOKEN", &cfg.Influx.Token)
	str("INFLUX_ORG", &cfg.Influx.Org)
	str("INFLUX_BUCKET", &cfg.Influx.Bucket)
	str("SEED_FILE", &cfg.SeedFile)
	str("SCOPE_USER", &cfg.Scope.UserID)
	if v := getenv("SENSORMAP_SCOPE_ROLE"); v != "" {
		cfg.Scope.Role = strings.ToLower(v)
	}

	for key, dst := range map[string]*int32{
		"HTTP_PORT":       &cfg.HTTPPort,
		"CALL_TIMEOUT_MS": &cfg.CallTimeoutMs,
		"INTERVAL":        &cfg.Interval,
		"MQTT_PORT":       &cfg.MQTT.Port,
	} {
		if err := i32(key, dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*bool{
		"ENABLE_REDIS":   &cfg.EnableRedis,
		"ENABLE_MQTT":    &cfg.EnableMQTT,
		"ENABLE_HISTORY": &cfg.EnableHistory,
		"DISABLE_SOCKET": &cfg.DisableSocket,
	} {
		if err := flag(key, dst); err != nil {
			return err
		}
	}
	return nil
}
