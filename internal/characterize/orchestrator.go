// Package characterize sequences alignment, spectral sweep, end-face geometry
// and signal analysis into one persisted measurement record.
package characterize

import (
	"context"
	"fmt"
	"image"
	"iter"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/config"
	"github.com/FakeCoder01/fiber-characterization-system/internal/db"
	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/geometry"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
	"github.com/FakeCoder01/fiber-characterization-system/internal/signal"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
	"github.com/FakeCoder01/fiber-characterization-system/internal/timeutil"
	"github.com/FakeCoder01/fiber-characterization-system/internal/units"
)

// MeasurementRecord is the persisted outcome of one run.
type MeasurementRecord = db.MeasurementRecord

// Store persists records and returns the assigned id.
type Store interface {
	Save(MeasurementRecord) (int64, error)
}

// SampleMetadata identifies the fiber under test and its end-face image.
// Image takes precedence over ImagePath.
type SampleMetadata struct {
	FiberType string
	Image     image.Image
	ImagePath string
}

// Bench is the part of stage.Session the orchestrator drives.
type Bench interface {
	Optimize(steps int, cov stage.Covariance) (stage.AlignResult, error)
	Sweep(start, stop float64, steps int) (iter.Seq2[stage.SpectralPoint, error], error)
}

// GeometryFunc analyzes an end-face image.
type GeometryFunc func(image.Image, geometry.Options) (geometry.Geometry, error)

// Orchestrator runs full characterizations against one bench.
type Orchestrator struct {
	bench    Bench
	store    Store
	cfg      *config.Config
	clock    timeutil.Clock
	analyze  GeometryFunc
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for record timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithGeometry replaces geometry.Analyze.
func WithGeometry(f GeometryFunc) Option {
	return func(o *Orchestrator) { o.analyze = f }
}

// WithRunID replaces the uuid generator.
func WithRunID(f func() string) Option {
	return func(o *Orchestrator) { o.newRunID = f }
}

// New returns an Orchestrator. A nil cfg uses every default.
func New(bench Bench, store Store, cfg *config.Config, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = config.Empty()
	}
	o := &Orchestrator{
		bench:    bench,
		store:    store,
		cfg:      cfg,
		clock:    timeutil.RealClock{},
		analyze:  geometry.Analyze,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunFullCharacterization aligns, sweeps, analyzes meta's image and the swept
// powers, then saves the record. Any failure aborts the run and nothing is
// saved. ctx is checked between steps; a running step is not interrupted.
func (o *Orchestrator) RunFullCharacterization(ctx context.Context, meta SampleMetadata) (MeasurementRecord, error) {
	start := o.clock.Now()
	runID := o.newRunID()
	monitoring.Logf("characterize %s: starting (%s)", runID, meta.FiberType)

	step := func(name string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("characterize %s before %s: %w", runID, name, err)
		}
		return nil
	}

	if err := step("alignment"); err != nil {
		return MeasurementRecord{}, err
	}
	align, err := o.bench.Optimize(o.cfg.GetAlignmentSteps(), stage.IsotropicCovariance(o.cfg.GetAlignmentVariance()))
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("alignment: %w", err)
	}

	if err := step("sweep"); err != nil {
		return MeasurementRecord{}, err
	}
	seq, err := o.bench.Sweep(o.cfg.GetSweepStart(), o.cfg.GetSweepStop(), o.cfg.GetSweepSteps())
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("sweep: %w", err)
	}
	wavelengths, powers, err := stage.CollectSweep(seq)
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("sweep: %w", err)
	}

	if err := step("geometry"); err != nil {
		return MeasurementRecord{}, err
	}
	img, err := loadImage(meta)
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("geometry: %w", err)
	}
	geo, err := o.analyze(img, o.geometryOptions())
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("geometry: %w", err)
	}
	if len(geo.Index) < 2 {
		return MeasurementRecord{}, fmt.Errorf("geometry: index profile has %d parameters: %w", len(geo.Index), fiberr.ErrInsufficientData)
	}

	if err := step("signal analysis"); err != nil {
		return MeasurementRecord{}, err
	}
	mw := units.DBmToMilliwattSlice(powers)
	att, err := signal.Attenuation(mw, wavelengths)
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("attenuation: %w", err)
	}
	disp, err := signal.Dispersion(mw, o.cfg.GetSamplingRate())
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("dispersion: %w", err)
	}

	rec := MeasurementRecord{
		RunID:               runID,
		Timestamp:           o.clock.Now(),
		FiberType:           meta.FiberType,
		Wavelength:          wavelengths[len(wavelengths)-1],
		Power:               stat.Mean(powers, nil),
		MFD:                 geo.MFD,
		Attenuation:         att.Coefficient,
		Dispersion:          disp.PMD,
		RefractiveIndexCore: geo.Index[0],
		RefractiveIndexClad: geo.Index[1],
		CoreDiameter:        geo.Core.Diameter,
		CladdingDiameter:    geo.Cladding.Diameter,
	}
	id, err := o.store.Save(rec)
	if err != nil {
		return MeasurementRecord{}, fmt.Errorf("save %s: %w", runID, err)
	}
	rec.ID = id

	monitoring.Logf("characterize %s: saved #%d in %v (aligned at %+v, %.2f dBm; attenuation %.4g, PMD %.4g)",
		runID, id, o.clock.Now().Sub(start).Round(time.Millisecond), align.Position, align.Power, rec.Attenuation, rec.Dispersion)
	return rec, nil
}

func (o *Orchestrator) geometryOptions() geometry.Options {
	opts := geometry.DefaultOptions()
	opts.MinArea = o.cfg.GetMinArea()
	opts.CheckPlausibility = o.cfg.GetCheckPlausibility()
	return opts
}

func loadImage(meta SampleMetadata) (image.Image, error) {
	if meta.Image != nil {
		return meta.Image, nil
	}
	if meta.ImagePath == "" {
		return nil, fmt.Errorf("no end-face image supplied: %w", fiberr.ErrInvalidConfiguration)
	}
	return geometry.Load(meta.ImagePath)
}
