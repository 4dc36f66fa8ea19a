// Command client seeds the sensor store and replays readings to running
// dashboards over redis and MQTT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"github.com/imdario/mergo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/patrickmn/go-cache"

	"github.com/kirbo/go-sensormap/internal/channels"
	"github.com/kirbo/go-sensormap/internal/config"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/pubsub"
	radio "github.com/kirbo/go-sensormap/internal/signal"
	"github.com/kirbo/go-sensormap/internal/store"
)

// Cache holds the last record sent per sensor and the display names.
var Cache = cache.New(0, 0)

// errSwitchedOff reports a reading dropped because its sensor was deactivated
// after the reading was derived.
var errSwitchedOff = errors.New("sensor deactivated meanwhile")

type feeder struct {
	cfg       models.Config
	logger    *slog.Logger
	store     *store.Store
	publisher *pubsub.Publisher
	mqtt      mqtt.Client
	rand      *rand.Rand
}

func main() {
	once := flag.Bool("once", false, "seed the store and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("component", "client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := &feeder{cfg: cfg, logger: logger, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := f.connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer f.close()

	if err := f.seed(ctx); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	if *once {
		return
	}

	f.run(ctx)
}

func (f *feeder) connect(ctx context.Context) error {
	if f.cfg.Backend == config.BackendSQL {
		st, err := store.Open(f.cfg.Database.Driver, f.cfg.Database.DSN)
		if err != nil {
			return err
		}
		if err := st.InitSchema(ctx); err != nil {
			st.Close()
			return err
		}
		f.store = st
	}

	if f.cfg.EnableRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", f.cfg.Redis.Host, f.cfg.Redis.Port),
			Password: f.cfg.Redis.Password,
			DB:       f.cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.publisher = pubsub.NewPublisher(rdb)
	}

	if f.cfg.EnableMQTT {
		user := f.cfg.MQTT.User
		user.ClientID += "-client"
		mqttCfg := f.cfg.MQTT
		mqttCfg.User = user

		client, err := pubsub.ConnectMQTT(ctx, mqttCfg, f.logger)
		if err != nil {
			return err
		}
		f.mqtt = client
	}
	return nil
}

func (f *feeder) close() {
	if f.store != nil {
		f.store.Close()
	}
	if f.mqtt != nil {
		f.mqtt.Disconnect(250)
	}
}

// loadSeed reads the seed file and fills omitted fields from seedDefaults.
func loadSeed(path string) ([]models.Sensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sensors []models.Sensor
	if err := json.Unmarshal(data, &sensors); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i := range sensors {
		if sensors[i].ID == "" {
			return nil, fmt.Errorf("seed entry %d has no id", i)
		}
		if err := mergo.Merge(&sensors[i], seedDefaults()); err != nil {
			return nil, err
		}
	}
	return sensors, nil
}

func seedDefaults() models.Sensor {
	return models.Sensor{
		Status: models.StatusOnline,
		Telemetry: models.Telemetry{
			RSSI:    -60,
			Battery: 100,
		},
	}
}

func (f *feeder) seed(ctx context.Context) error {
	sensors, err := loadSeed(f.cfg.SeedFile)
	if err != nil {
		return err
	}

	for _, s := range sensors {
		Cache.Set("name:"+s.ID, s.Name, cache.NoExpiration)
		if f.store == nil {
			Cache.Set(channels.SensorKey(s.ID), s, cache.NoExpiration)
			continue
		}
		if err := f.store.UpsertSensor(ctx, s); err != nil {
			return fmt.Errorf("upsert %s: %w", s.ID, err)
		}
	}
	f.logger.Info("seeded sensors", "count", len(sensors), "file", f.cfg.SeedFile)
	return nil
}

func (f *feeder) run(ctx context.Context) {
	interval := time.Duration(f.cfg.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.logger.Info("replaying readings", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *feeder) tick(ctx context.Context) {
	var ids []string
	for key := range Cache.Items() {
		if strings.HasPrefix(key, "name:") {
			ids = append(ids, strings.TrimPrefix(key, "name:"))
		}
	}

	sort.Strings(ids)
	for _, id := range ids {
		current, err := f.current(ctx, id)
		if err != nil {
			f.logger.Warn("no record", "sensor", id, "error", err)
			continue
		}
		if current.Deactivated() {
			continue
		}

		next := current.Clone()
		next.Telemetry = drift(f.rand, current.Telemetry)
		next.Status = radio.StatusFor(next.Telemetry.RSSI)

		if err := f.send(ctx, next); err != nil {
			if errors.Is(err, errSwitchedOff) {
				f.logger.Debug("reading dropped", "sensor", id)
				continue
			}
			f.logger.Warn("send failed", "sensor", id, "error", err)
			continue
		}

		name, _ := Cache.Get("name:" + id)
		f.logger.Debug("reading sent", "sensor", id, "name", name, "rssi", next.Telemetry.RSSI, "battery", next.Telemetry.Battery)
	}
}

func (f *feeder) current(ctx context.Context, id string) (models.Sensor, error) {
	if f.store != nil {
		return f.store.GetSensor(ctx, id)
	}
	if x, found := Cache.Get(channels.SensorKey(id)); found {
		return x.(models.Sensor), nil
	}
	return models.Sensor{}, errors.New("not cached")
}

func (f *feeder) send(ctx context.Context, s models.Sensor) error {
	if f.store != nil {
		updated, err := f.store.UpdateReadings(ctx, s.ID, s.Telemetry)
		if err != nil {
			return err
		}
		if !updated {
			return errSwitchedOff
		}
	} else {
		Cache.Set(channels.SensorKey(s.ID), s, cache.NoExpiration)
	}

	if f.publisher != nil {
		if err := f.publisher.Publish(ctx, s); err != nil {
			return err
		}
	}

	if f.mqtt != nil {
		payload, err := json.Marshal(s.Telemetry)
		if err != nil {
			return err
		}
		topic := telemetryTopic(f.cfg.MQTT.Topic, s.ID)
		if token := f.mqtt.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func telemetryTopic(pattern, id string) string {
	if pattern == "" {
		pattern = pubsub.DefaultTelemetryTopic
	}
	return strings.Replace(pattern, "+", id, 1)
}

// drift nudges a reading the way a live sensor would between two reports.
func drift(r *rand.Rand, t models.Telemetry) models.Telemetry {
	clamp := func(v, lo, hi float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	t.RSSI += r.Intn(5) - 2
	if t.RSSI > -30 {
		t.RSSI = -30
	}
	if t.RSSI <= models.PoweredOffRSSI {
		t.RSSI = models.PoweredOffRSSI + 1
	}
	t.PacketLoss = clamp(t.PacketLoss+r.Float64()-0.5, 0, 100)
	t.Battery = clamp(t.Battery-r.Float64()*0.05, 0, 100)
	t.Temperature += r.Float64() - 0.5
	t.Moisture = clamp(t.Moisture+r.Float64()-0.5, 0, 100)
	t.Light = clamp(t.Light+(r.Float64()-0.5)*20, 0, 100000)
	return t
}
