package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a measurement id does not exist.
var ErrNotFound = errors.New("measurement not found")

type DB struct {
	*sql.DB
}

// pragmas applied to every connection opened by NewDB.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA synchronous=NORMAL",
}

// NewDB opens (creating if needed) the sqlite database at path and applies
// all pending migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway and WAL needs a stable connection
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// MeasurementRecord is one completed characterization run.
type MeasurementRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	FiberType string    `json:"fiber_type"`
	// Wavelength is the last swept wavelength in nm.
	Wavelength float64 `json:"wavelength"`
	// Power is the mean swept power in dBm.
	Power float64 `json:"power"`
	// MFD is the mode field diameter in pixels.
	MFD float64 `json:"mfd"`
	// Attenuation is the scaled exponential decay coefficient.
	Attenuation float64 `json:"attenuation"`
	// Dispersion is the polarization mode dispersion in seconds.
	Dispersion          float64 `json:"dispersion"`
	RefractiveIndexCore float64 `json:"n_core"`
	RefractiveIndexClad float64 `json:"n_clad"`
	CoreDiameter        float64 `json:"core_diameter"`
	CladdingDiameter    float64 `json:"cladding_diameter"`
}

const measurementColumns = `id, run_id, timestamp, fiber_type, wavelength, power, mfd,
	attenuation, dispersion, n_core, n_clad, core_diameter, cladding_diameter`

// Save inserts r and returns its row id. r.ID is ignored; a zero Timestamp is
// stored as the current time.
func (db *DB) Save(r MeasurementRecord) (int64, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := db.Exec(
		`INSERT INTO measurements (
			run_id, timestamp, fiber_type, wavelength, power, mfd,
			attenuation, dispersion, n_core, n_clad, core_diameter, cladding_diameter
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, ts.UTC(), r.FiberType, r.Wavelength, r.Power, r.MFD,
		r.Attenuation, r.Dispersion, r.RefractiveIndexCore, r.RefractiveIndexClad,
		r.CoreDiameter, r.CladdingDiameter,
	)
	if err != nil {
		return 0, fmt.Errorf("insert measurement %s: %w", r.RunID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("measurement id: %w", err)
	}
	return id, nil
}

// Measurements returns up to limit records, newest first. A non-positive
// limit returns 100.
func (db *DB) Measurements(limit int) ([]MeasurementRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+measurementColumns+` FROM measurements ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeasurementRecord
	for rows.Next() {
		r, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Measurement returns the record with the given id.
func (db *DB) Measurement(id int64) (MeasurementRecord, error) {
	row := db.QueryRow(`SELECT `+measurementColumns+` FROM measurements WHERE id = ?`, id)
	r, err := scanMeasurement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MeasurementRecord{}, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(s scanner) (MeasurementRecord, error) {
	var r MeasurementRecord
	err := s.Scan(
		&r.ID, &r.RunID, &r.Timestamp, &r.FiberType, &r.Wavelength, &r.Power, &r.MFD,
		&r.Attenuation, &r.Dispersion, &r.RefractiveIndexCore, &r.RefractiveIndexClad,
		&r.CoreDiameter, &r.CladdingDiameter,
	)
	if err != nil {
		return MeasurementRecord{}, err
	}
	return r, nil
}
