/*Package store keeps the history of a spectrometer in a sqlite database.

Every calibration and sample of a session is inserted with a random ID.
Arrays are stored as JSON text.  The schema is managed by embedded
migrations which are applied when the database is opened.
*/
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nasa-jpl/ramanlab/session"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is generated when a record does not exist
var ErrNotFound = errors.New("store: not found")

// timeFormat sorts lexically in time order for UTC times
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a sqlite backed session.Archive
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	lastCal string
}

// Open opens or creates the database at path and brings its schema up to date
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}
	if err = migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: loading migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: creating sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: creating migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed, that would close db
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool {
	return false
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func encode(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func decode(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}

// RecordCalibration satisfies session.Archive
func (s *Store) RecordCalibration(ctx context.Context, c *session.Calibration) error {
	coeffs, err := encode(c.Parameters.Coeffs)
	if err != nil {
		return err
	}
	spectrum, err := encode(c.Spectrum)
	if err != nil {
		return err
	}
	dark, err := encode(c.DarkNoise)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO calibrations
		(id, taken_at, coeffs, integration_time, power, exposure_converged, exposure_iterations, spectrum, dark_noise)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.Time.UTC().Format(timeFormat), coeffs, c.IntegrationTime, c.Power,
		c.ExposureConverged, c.ExposureIterations, spectrum, dark)
	if err != nil {
		return fmt.Errorf("store: inserting calibration: %w", err)
	}
	s.mu.Lock()
	s.lastCal = id
	s.mu.Unlock()
	return nil
}

// RecordSample satisfies session.Archive.  The sample is linked to the last
// calibration recorded by this store, if any.
func (s *Store) RecordSample(ctx context.Context, smp *session.Sample) error {
	coeffs, err := encode(smp.Calibration.Coeffs)
	if err != nil {
		return err
	}
	wn, err := encode(smp.Wavenumbers)
	if err != nil {
		return err
	}
	intensity, err := encode(smp.Conditioned)
	if err != nil {
		return err
	}
	s.mu.Lock()
	var calID sql.NullString
	if s.lastCal != "" {
		calID = sql.NullString{String: s.lastCal, Valid: true}
	}
	s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO samples
		(id, calibration_id, taken_at, coeffs, integration_time, power, exposure_converged, power_converged, power_iterations, wavenumbers, intensity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), calID, smp.Time.UTC().Format(timeFormat), coeffs, smp.IntegrationTime, smp.Power,
		smp.ExposureConverged, smp.PowerConverged, smp.PowerIterations, wn, intensity)
	if err != nil {
		return fmt.Errorf("store: inserting sample: %w", err)
	}
	return nil
}

// CalibrationRecord is a stored calibration
type CalibrationRecord struct {
	ID                 string    `json:"id"`
	Time               time.Time `json:"time"`
	Coeffs             []float64 `json:"coeffs"`
	IntegrationTime    float64   `json:"integrationTime"`
	Power              float64   `json:"power"`
	ExposureConverged  bool      `json:"exposureConverged"`
	ExposureIterations int       `json:"exposureIterations"`
	Spectrum           []float64 `json:"spectrum,omitempty"`
	DarkNoise          []float64 `json:"darkNoise,omitempty"`
}

// SampleRecord is a stored sample.  The arrays are only populated by Sample.
type SampleRecord struct {
	ID                string    `json:"id"`
	CalibrationID     string    `json:"calibrationId,omitempty"`
	Time              time.Time `json:"time"`
	Coeffs            []float64 `json:"coeffs"`
	IntegrationTime   float64   `json:"integrationTime"`
	Power             float64   `json:"power"`
	ExposureConverged bool      `json:"exposureConverged"`
	PowerConverged    bool      `json:"powerConverged"`
	PowerIterations   int       `json:"powerIterations"`
	Wavenumbers       []float64 `json:"wavenumbers,omitempty"`
	Intensity         []float64 `json:"intensity,omitempty"`
}

// LatestCalibration returns the most recent calibration
func (s *Store) LatestCalibration(ctx context.Context) (CalibrationRecord, error) {
	var (
		r                      CalibrationRecord
		taken, coeffs, spec, d string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, taken_at, coeffs, integration_time, power,
		exposure_converged, exposure_iterations, spectrum, dark_noise
		FROM calibrations ORDER BY taken_at DESC LIMIT 1`).
		Scan(&r.ID, &taken, &coeffs, &r.IntegrationTime, &r.Power,
			&r.ExposureConverged, &r.ExposureIterations, &spec, &d)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("store: reading calibration: %w", err)
	}
	if r.Time, err = time.Parse(timeFormat, taken); err != nil {
		return r, err
	}
	return r, errors.Join(decode(coeffs, &r.Coeffs), decode(spec, &r.Spectrum), decode(d, &r.DarkNoise))
}

const sampleColumns = `id, calibration_id, taken_at, coeffs, integration_time, power,
	exposure_converged, power_converged, power_iterations`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row scanner, extra ...interface{}) (SampleRecord, error) {
	var (
		r             SampleRecord
		calID         sql.NullString
		taken, coeffs string
	)
	dest := append([]interface{}{&r.ID, &calID, &taken, &coeffs, &r.IntegrationTime, &r.Power,
		&r.ExposureConverged, &r.PowerConverged, &r.PowerIterations}, extra...)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	r.CalibrationID = calID.String
	var err error
	if r.Time, err = time.Parse(timeFormat, taken); err != nil {
		return r, err
	}
	return r, decode(coeffs, &r.Coeffs)
}

// Samples returns up to limit samples, newest first, without their arrays
func (s *Store) Samples(ctx context.Context, limit int) ([]SampleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sampleColumns+`
		FROM samples ORDER BY taken_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing samples: %w", err)
	}
	defer rows.Close()
	var out []SampleRecord
	for rows.Next() {
		r, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("store: listing samples: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sample returns one sample with its arrays
func (s *Store) Sample(ctx context.Context, id string) (SampleRecord, error) {
	var wn, intensity string
	row := s.db.QueryRowContext(ctx, `SELECT `+sampleColumns+`, wavenumbers, intensity
		FROM samples WHERE id = ?`, id)
	r, err := scanSample(row, &wn, &intensity)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("store: reading sample %s: %w", id, err)
	}
	return r, errors.Join(decode(wn, &r.Wavenumbers), decode(intensity, &r.Intensity))
}
