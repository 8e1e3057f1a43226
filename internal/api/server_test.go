package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FakeCoder01/fiber-characterization-system/internal/characterize"
	"github.com/FakeCoder01/fiber-characterization-system/internal/db"
	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stream"
)

type fakeBench struct{ busy bool }

func (fakeBench) Position() stage.Position { return stage.Position{X: 0.25, Y: -0.5} }
func (fakeBench) Wavelength() float64      { return 1551.5 }
func (b fakeBench) Busy() bool             { return b.busy }

type fakeRunner struct {
	got characterize.SampleMetadata
	err error
}

func (f *fakeRunner) RunFullCharacterization(_ context.Context, meta characterize.SampleMetadata) (characterize.MeasurementRecord, error) {
	f.got = meta
	if f.err != nil {
		return characterize.MeasurementRecord{}, f.err
	}
	return characterize.MeasurementRecord{ID: 3, RunID: "abc", FiberType: meta.FiberType, Wavelength: 1600}, nil
}

type fakeStore struct {
	records []db.MeasurementRecord
	limit   int
}

func (f *fakeStore) Measurements(limit int) ([]db.MeasurementRecord, error) {
	f.limit = limit
	return f.records, nil
}

func (f *fakeStore) Measurement(id int64) (db.MeasurementRecord, error) {
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return db.MeasurementRecord{}, db.ErrNotFound
}

type harness struct {
	samples *stream.Stream
	runner  *fakeRunner
	store   *fakeStore
	handler http.Handler
}

func newHarness() *harness {
	h := &harness{
		samples: stream.New(8),
		runner:  &fakeRunner{},
		store:   &fakeStore{records: []db.MeasurementRecord{{ID: 1, RunID: "one"}, {ID: 2, RunID: "two"}}},
	}
	srv := NewServer(h.samples, fakeBench{}, h.runner, h.store)
	srv.ImageRoot = "/data"
	h.handler = LoggingMiddleware(srv.ServeMux())
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestDrainSamples(t *testing.T) {
	h := newHarness()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.samples.Publish(stream.Sample{Timestamp: now, Wavelength: 1550 + float64(i), Power: -3}))
	}

	rec := h.do(t, http.MethodGet, "/api/samples?max=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp samplesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Samples, 3)
	assert.Equal(t, 1550.0, resp.Samples[0].Wavelength)
	assert.Equal(t, 2, resp.Stats.Queued)
	assert.Empty(t, resp.Error)

	h.samples.CloseWithError(fiberr.ErrHardwareRead)
	rec = h.do(t, http.MethodGet, "/api/samples", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Samples, 2)
	assert.Equal(t, fiberr.ErrHardwareRead.Error(), resp.Error)
	assert.True(t, resp.Stats.Closed)
}

func TestDrainSamples_BadRequests(t *testing.T) {
	h := newHarness()
	for _, target := range []string{"/api/samples?max=0", "/api/samples?max=x", "/api/samples?max=100000"} {
		assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, target, "").Code, target)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodPost, "/api/samples", "").Code)
}

func TestDrainSamples_EmptyIsArray(t *testing.T) {
	rec := newHarness().do(t, http.MethodGet, "/api/samples", "")
	assert.Contains(t, rec.Body.String(), `"samples":[]`)
}

func TestShowPosition(t *testing.T) {
	rec := newHarness().do(t, http.MethodGet, "/api/position", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp positionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, stage.Position{X: 0.25, Y: -0.5}, resp.Position)
	assert.Equal(t, 1551.5, resp.Wavelength)
	assert.False(t, resp.Busy)
}

func TestRunCharacterization(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodPost, "/api/characterize", `{"fiber_type":"SMF-28","image_path":"/data/face.png"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got characterize.MeasurementRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, "SMF-28", got.FiberType)
	assert.Equal(t, "/data/face.png", h.runner.got.ImagePath)
}

func TestRunCharacterization_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		runErr error
		want   int
	}{
		{"malformed body", `{"fiber_type":`, nil, http.StatusBadRequest},
		{"unknown field", `{"image_path":"a.png","speed":3}`, nil, http.StatusBadRequest},
		{"missing image", `{"fiber_type":"SMF-28"}`, nil, http.StatusBadRequest},
		{"busy", `{"image_path":"a.png"}`, errors.Join(errors.New("alignment"), fiberr.ErrConcurrentAccess), http.StatusConflict},
		{"geometry", `{"image_path":"a.png"}`, fiberr.ErrGeometryNotFound, http.StatusUnprocessableEntity},
		{"hardware", `{"image_path":"a.png"}`, fiberr.ErrHardwareRead, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.runner.err = tt.runErr
			rec := h.do(t, http.MethodPost, "/api/characterize", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, newHarness().do(t, http.MethodGet, "/api/characterize", "").Code)
}

func TestRunCharacterization_ImageRoot(t *testing.T) {
	root := t.TempDir()
	h := newHarness()
	srv := NewServer(h.samples, fakeBench{}, h.runner, h.store)
	srv.ImageRoot = root
	h.handler = srv.ServeMux()

	rec := h.do(t, http.MethodPost, "/api/characterize", `{"image_path":"../../etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.runner.got.ImagePath)

	rec = h.do(t, http.MethodPost, "/api/characterize", `{"image_path":"smf28.png"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "smf28.png", filepath.Base(h.runner.got.ImagePath))
	assert.True(t, filepath.IsAbs(h.runner.got.ImagePath))
}

func TestRunCharacterization_NoImageRoot(t *testing.T) {
	h := newHarness()
	h.handler = NewServer(h.samples, fakeBench{}, h.runner, h.store).ServeMux()

	for _, path := range []string{"/etc/passwd", "face.png"} {
		rec := h.do(t, http.MethodPost, "/api/characterize", `{"image_path":"`+path+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "images.dir")
	}
	assert.Empty(t, h.runner.got.ImagePath)
}

func TestListMeasurements(t *testing.T) {
	h := newHarness()
	rec := h.do(t, http.MethodGet, "/api/measurements?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []db.MeasurementRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Len(t, got, 2)
	assert.Equal(t, 5, h.store.limit)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/measurements?limit=-1", "").Code)
}

func TestShowMeasurement(t *testing.T) {
	h := newHarness()

	rec := h.do(t, http.MethodGet, "/api/measurements/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got db.MeasurementRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "two", got.RunID)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/measurements/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/measurements/abc", "").Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), "200")
	assert.Contains(t, statusCodeColor(503), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}
