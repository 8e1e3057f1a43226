package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(runID string, ts time.Time) MeasurementRecord {
	return MeasurementRecord{
		RunID:               runID,
		Timestamp:           ts,
		FiberType:           "SMF-28",
		Wavelength:          1600,
		Power:               -3.25,
		MFD:                 10.4,
		Attenuation:         0.2,
		Dispersion:          1.5e-3,
		RefractiveIndexCore: 1.4682,
		RefractiveIndexClad: 1.4629,
		CoreDiameter:        8.2,
		CladdingDiameter:    125,
	}
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewDB_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	first, err := NewDB(path)
	require.NoError(t, err)
	_, err = first.Save(sampleRecord("a", time.Now()))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewDB(path)
	require.NoError(t, err)
	defer second.Close()

	records, err := second.Measurements(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSaveAndQuery(t *testing.T) {
	db := setupTestDB(t)
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	want := sampleRecord("run-1", ts)
	id, err := db.Save(want)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := db.Measurement(id)
	require.NoError(t, err)
	want.ID = id
	if diff := cmp.Diff(want, got, cmpopts.EquateApproxTime(time.Millisecond)); diff != "" {
		t.Errorf("Measurement() mismatch (-want +got):\n%s", diff)
	}
}

func TestMeasurements_NewestFirstWithLimit(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, runID := range []string{"old", "mid", "new"} {
		_, err := db.Save(sampleRecord(runID, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	all, err := db.Measurements(0)
	require.NoError(t, err)
	var order []string
	for _, r := range all {
		order = append(order, r.RunID)
	}
	assert.Equal(t, []string{"new", "mid", "old"}, order)

	limited, err := db.Measurements(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Equal(t, "new", limited[0].RunID)
}

func TestSave_DuplicateRunID(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Save(sampleRecord("dup", time.Now()))
	require.NoError(t, err)
	_, err = db.Save(sampleRecord("dup", time.Now()))
	assert.Error(t, err)
}

func TestSave_ZeroTimestampUsesNow(t *testing.T) {
	db := setupTestDB(t)
	before := time.Now().Add(-time.Second)
	id, err := db.Save(sampleRecord("now", time.Time{}))
	require.NoError(t, err)

	got, err := db.Measurement(id)
	require.NoError(t, err)
	assert.True(t, got.Timestamp.After(before), "timestamp %v", got.Timestamp)
}

func TestMeasurement_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Measurement(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMigrateDown(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.MigrateDown())

	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	_, err = db.Measurements(1)
	assert.Error(t, err)

	require.NoError(t, db.MigrateUp())
	_, err = db.Measurements(1)
	assert.NoError(t, err)
}
