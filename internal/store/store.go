// Package store persists sensors in postgres or sqlite and performs
// activate/deactivate transitions transactionally.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kirbo/go-sensormap/internal/activation"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/signal"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ErrNotFound is returned for unknown sensor ids.
var ErrNotFound = errors.New("sensor not found")

// Store wraps the database handle and knows which SQL dialect it speaks.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Open connects to the database. For sqlite dsn is a file path; its
// directory is created if needed.
func Open(driver, dsn string) (*Store, error) {
	switch Dialect(strings.ToLower(driver)) {
	case Postgres:
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{db: db, dialect: Postgres}, nil
	case SQLite, "":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return &Store{db: db, dialect: SQLite}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures the sensors table exists.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensors (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			rssi INTEGER NOT NULL,
			packet_loss DOUBLE PRECISION NOT NULL,
			battery DOUBLE PRECISION NOT NULL,
			temperature DOUBLE PRECISION NOT NULL,
			moisture DOUBLE PRECISION NOT NULL,
			light DOUBLE PRECISION NOT NULL,
			technician_id TEXT NOT NULL DEFAULT '',
			technician_name TEXT NOT NULL DEFAULT '',
			customer_id TEXT NOT NULL DEFAULT '',
			customer_name TEXT NOT NULL DEFAULT '',
			saved_status TEXT,
			saved_rssi INTEGER,
			saved_packet_loss DOUBLE PRECISION,
			saved_battery DOUBLE PRECISION,
			saved_temperature DOUBLE PRECISION,
			saved_moisture DOUBLE PRECISION,
			saved_light DOUBLE PRECISION
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sensors_technician ON sensors(technician_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sensors_customer ON sensors(customer_id);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

const sensorColumns = `id, name, latitude, longitude, status, rssi, packet_loss, battery,
	temperature, moisture, light, technician_id, technician_name, customer_id, customer_name,
	saved_status, saved_rssi, saved_packet_loss, saved_battery, saved_temperature, saved_moisture, saved_light`

// UpsertSensor inserts a sensor or overwrites the stored one with the same id.
func (s *Store) UpsertSensor(ctx context.Context, sensor models.Sensor) error {
	if strings.TrimSpace(sensor.ID) == "" {
		return errors.New("sensor id is required")
	}
	activation.Normalize(&sensor)

	query := `INSERT INTO sensors (` + sensorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			status = excluded.status,
			rssi = excluded.rssi,
			packet_loss = excluded.packet_loss,
			battery = excluded.battery,
			temperature = excluded.temperature,
			moisture = excluded.moisture,
			light = excluded.light,
			technician_id = excluded.technician_id,
			technician_name = excluded.technician_name,
			customer_id = excluded.customer_id,
			customer_name = excluded.customer_name,
			saved_status = excluded.saved_status,
			saved_rssi = excluded.saved_rssi,
			saved_packet_loss = excluded.saved_packet_loss,
			saved_battery = excluded.saved_battery,
			saved_temperature = excluded.saved_temperature,
			saved_moisture = excluded.saved_moisture,
			saved_light = excluded.saved_light;`

	args := append([]interface{}{
		sensor.ID,
		sensor.Name,
		sensor.Position.Latitude,
		sensor.Position.Longitude,
		string(sensor.Status),
	}, telemetryArgs(sensor.Telemetry)...)
	args = append(args, sensor.TechnicianID, sensor.Technician, sensor.CustomerID, sensor.Customer)
	args = append(args, savedArgs(sensor.SavedState)...)

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("upsert sensor %s: %w", sensor.ID, err)
	}
	return nil
}

// UpdateReadings writes a new reading of a live sensor and derives its
// status. A deactivated sensor is left alone; updated is false then, and
// also when the sensor does not exist.
func (s *Store) UpdateReadings(ctx context.Context, id string, t models.Telemetry) (updated bool, err error) {
	if t.IsPoweredOff() {
		return false, fmt.Errorf("update readings %s: switched-off reading", id)
	}

	query := `UPDATE sensors SET status = ?, rssi = ?, packet_loss = ?, battery = ?,
			temperature = ?, moisture = ?, light = ?
		WHERE id = ? AND status <> ?;`

	args := append([]interface{}{string(signal.StatusFor(t.RSSI))}, telemetryArgs(t)...)
	args = append(args, id, string(models.StatusDeactivated))

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("update readings %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update readings %s: %w", id, err)
	}
	return n == 1, nil
}

// GetSensor loads one sensor.
func (s *Store) GetSensor(ctx context.Context, id string) (models.Sensor, error) {
	return s.getSensor(ctx, s.db, id, false)
}

// FetchSensors returns the sensors visible to scope ordered by id.
// Technicians see the sensors assigned to them, customers and farmers their
// own; any other role sees everything.
func (s *Store) FetchSensors(ctx context.Context, scope models.Scope) ([]models.Sensor, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	query := `SELECT ` + sensorColumns + ` FROM sensors`
	var args []interface{}
	switch {
	case scope.Technician():
		query += ` WHERE technician_id = ?`
		args = append(args, scope.UserID)
	case scope.Customer():
		query += ` WHERE customer_id = ?`
		args = append(args, scope.UserID)
	}
	query += ` ORDER BY id;`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	sensors := []models.Sensor{}
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensors: %w", err)
	}
	return sensors, nil
}

// ActivateSensor restores the saved readings of a deactivated sensor.
func (s *Store) ActivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return s.transition(ctx, id, activation.ActionActivate)
}

// DeactivateSensor snapshots and switches off a sensor.
func (s *Store) DeactivateSensor(ctx context.Context, id string) (models.Sensor, error) {
	return s.transition(ctx, id, activation.ActionDeactivate)
}

func (s *Store) transition(ctx context.Context, id string, action activation.Action) (models.Sensor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Sensor{}, fmt.Errorf("begin %s: %w", action, err)
	}
	defer func() { _ = tx.Rollback() }()

	sensor, err := s.getSensor(ctx, tx, id, true)
	if err != nil {
		return models.Sensor{}, err
	}

	changed, err := activation.Apply(action, &sensor)
	if err != nil {
		return models.Sensor{}, err
	}
	if !changed {
		return sensor, nil
	}

	query := `UPDATE sensors SET status = ?, rssi = ?, packet_loss = ?, battery = ?,
		temperature = ?, moisture = ?, light = ?,
		saved_status = ?, saved_rssi = ?, saved_packet_loss = ?, saved_battery = ?,
		saved_temperature = ?, saved_moisture = ?, saved_light = ?
		WHERE id = ?;`
	args := append([]interface{}{string(sensor.Status)}, telemetryArgs(sensor.Telemetry)...)
	args = append(args, savedArgs(sensor.SavedState)...)
	args = append(args, sensor.ID)

	if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return models.Sensor{}, fmt.Errorf("%s sensor %s: %w", action, id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Sensor{}, fmt.Errorf("commit %s: %w", action, err)
	}
	return sensor, nil
}

func (s *Store) getSensor(ctx context.Context, q querier, id string, forUpdate bool) (models.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors WHERE id = ?`
	if forUpdate && s.dialect == Postgres {
		query += ` FOR UPDATE`
	}

	sensor, err := scanSensor(q.QueryRowContext(ctx, s.rebind(query+";"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Sensor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sensor, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSensor(row scanner) (models.Sensor, error) {
	var (
		sensor models.Sensor
		status string

		savedStatus      sql.NullString
		savedRSSI        sql.NullInt64
		savedPacketLoss  sql.NullFloat64
		savedBattery     sql.NullFloat64
		savedTemperature sql.NullFloat64
		savedMoisture    sql.NullFloat64
		savedLight       sql.NullFloat64
	)

	err := row.Scan(
		&sensor.ID,
		&sensor.Name,
		&sensor.Position.Latitude,
		&sensor.Position.Longitude,
		&status,
		&sensor.Telemetry.RSSI,
		&sensor.Telemetry.PacketLoss,
		&sensor.Telemetry.Battery,
		&sensor.Telemetry.Temperature,
		&sensor.Telemetry.Moisture,
		&sensor.Telemetry.Light,
		&sensor.TechnicianID,
		&sensor.Technician,
		&sensor.CustomerID,
		&sensor.Customer,
		&savedStatus,
		&savedRSSI,
		&savedPacketLoss,
		&savedBattery,
		&savedTemperature,
		&savedMoisture,
		&savedLight,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Sensor{}, err
		}
		return models.Sensor{}, fmt.Errorf("scan sensor: %w", err)
	}

	if err := sensor.Status.UnmarshalText([]byte(status)); err != nil {
		return models.Sensor{}, fmt.Errorf("sensor %s: %w", sensor.ID, err)
	}

	if savedStatus.Valid {
		saved := &models.SavedState{
			Telemetry: models.Telemetry{
				RSSI:        int(savedRSSI.Int64),
				PacketLoss:  savedPacketLoss.Float64,
				Battery:     savedBattery.Float64,
				Temperature: savedTemperature.Float64,
				Moisture:    savedMoisture.Float64,
				Light:       savedLight.Float64,
			},
		}
		if !savedRSSI.Valid {
			saved.RSSI = models.PoweredOffRSSI
		}
		if err := saved.Status.UnmarshalText([]byte(savedStatus.String)); err != nil {
			return models.Sensor{}, fmt.Errorf("sensor %s saved state: %w", sensor.ID, err)
		}
		sensor.SavedState = saved
	}

	activation.Normalize(&sensor)
	return sensor, nil
}

func telemetryArgs(t models.Telemetry) []interface{} {
	return []interface{}{t.RSSI, t.PacketLoss, t.Battery, t.Temperature, t.Moisture, t.Light}
}

func savedArgs(saved *models.SavedState) []interface{} {
	if saved == nil {
		return []interface{}{nil, nil, nil, nil, nil, nil, nil}
	}
	return []interface{}{
		string(saved.Status),
		saved.RSSI,
		saved.PacketLoss,
		saved.Battery,
		saved.Temperature,
		saved.Moisture,
		saved.Light,
	}
}

// rebind turns ? placeholders into $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
