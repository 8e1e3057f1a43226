package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FakeCoder01/fiber-characterization-system/internal/characterize"
	"github.com/FakeCoder01/fiber-characterization-system/internal/db"
	"github.com/FakeCoder01/fiber-characterization-system/internal/httputil"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
	"github.com/FakeCoder01/fiber-characterization-system/internal/security"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stream"
)

// ANSI escape codes for log colouring
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

const (
	defaultSampleBatch = 100
	maxSampleBatch     = 10000
)

// Bench reports the live stage state.
type Bench interface {
	Position() stage.Position
	Wavelength() float64
	Busy() bool
}

// Characterizer runs one full characterization.
type Characterizer interface {
	RunFullCharacterization(ctx context.Context, meta characterize.SampleMetadata) (characterize.MeasurementRecord, error)
}

// Measurements reads persisted records.
type Measurements interface {
	Measurements(limit int) ([]db.MeasurementRecord, error)
	Measurement(id int64) (db.MeasurementRecord, error)
}

type Server struct {
	// ImageRoot confines image_path in characterization requests. Empty
	// rejects every path.
	ImageRoot string

	samples *stream.Stream
	bench   Bench
	runner  Characterizer
	store   Measurements
}

func NewServer(samples *stream.Stream, bench Bench, runner Characterizer, store Measurements) *Server {
	return &Server{
		samples: samples,
		bench:   bench,
		runner:  runner,
		store:   store,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/samples", s.drainSamples)
	mux.HandleFunc("/api/position", s.showPosition)
	mux.HandleFunc("/api/characterize", s.runCharacterization)
	mux.HandleFunc("/api/measurements", s.listMeasurements)
	mux.HandleFunc("/api/measurements/{id}", s.showMeasurement)
	return mux
}

type samplesResponse struct {
	Samples []stream.Sample `json:"samples"`
	Stats   stream.Stats    `json:"stats"`
	// Error is set when acquisition stopped on a failure.
	Error string `json:"error,omitempty"`
}

// drainSamples removes up to ?max= queued samples from the stream.
func (s *Server) drainSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	n, err := intParam(r, "max", defaultSampleBatch)
	if err != nil || n <= 0 || n > maxSampleBatch {
		httputil.BadRequest(w, "max must be between 1 and "+strconv.Itoa(maxSampleBatch))
		return
	}

	resp := samplesResponse{Samples: s.samples.Drain(n), Stats: s.samples.Stats()}
	if resp.Samples == nil {
		resp.Samples = []stream.Sample{}
	}
	if err := s.samples.Err(); err != nil {
		resp.Error = err.Error()
	}
	httputil.WriteJSONOK(w, resp)
}

type positionResponse struct {
	Position   stage.Position `json:"position"`
	Wavelength float64        `json:"wavelength"`
	Busy       bool           `json:"busy"`
}

func (s *Server) showPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, positionResponse{
		Position:   s.bench.Position(),
		Wavelength: s.bench.Wavelength(),
		Busy:       s.bench.Busy(),
	})
}

type characterizeRequest struct {
	FiberType string `json:"fiber_type"`
	ImagePath string `json:"image_path"`
}

// runCharacterization runs synchronously; a second request while one is in
// progress is rejected with 409 by the stage session.
func (s *Server) runCharacterization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req characterizeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ImagePath) == "" {
		httputil.BadRequest(w, "image_path is required")
		return
	}
	if strings.TrimSpace(s.ImageRoot) == "" {
		httputil.BadRequest(w, "image_path is disabled: images.dir is not configured")
		return
	}
	imagePath, err := security.ResolveWithin(s.ImageRoot, req.ImagePath)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	rec, err := s.runner.RunFullCharacterization(r.Context(), characterize.SampleMetadata{
		FiberType: req.FiberType,
		ImagePath: imagePath,
	})
	if err != nil {
		monitoring.Logf("characterization failed: %v", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) listMeasurements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil || limit <= 0 {
		httputil.BadRequest(w, "limit must be a positive integer")
		return
	}
	records, err := s.store.Measurements(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list measurements")
		return
	}
	if records == nil {
		records = []db.MeasurementRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) showMeasurement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid measurement id")
		return
	}
	rec, err := s.store.Measurement(id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, "failed to load measurement")
	default:
		httputil.WriteJSONOK(w, rec)
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
