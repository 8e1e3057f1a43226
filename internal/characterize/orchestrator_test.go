package characterize

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FakeCoder01/fiber-characterization-system/internal/config"
	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/geometry"
	"github.com/FakeCoder01/fiber-characterization-system/internal/instrument/sim"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
	"github.com/FakeCoder01/fiber-characterization-system/internal/timeutil"
)

type memStore struct {
	saved []MeasurementRecord
	err   error
}

func (m *memStore) Save(r MeasurementRecord) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.saved = append(m.saved, r)
	return int64(len(m.saved) + 6), nil
}

func ptr[T any](v T) *T { return &v }

func testConfig() *config.Config {
	cfg := config.Empty()
	cfg.Sweep.Start = ptr(1500.0)
	cfg.Sweep.Stop = ptr(1600.0)
	cfg.Sweep.Steps = ptr(32)
	cfg.Alignment.Steps = ptr(10)
	cfg.Alignment.Variance = ptr(0.05)
	return cfg
}

type fixture struct {
	bench *sim.Bench
	clock *timeutil.MockClock
	store *memStore
	orch  *Orchestrator
	calls int
}

func newFixture(t *testing.T, analyze GeometryFunc) *fixture {
	t.Helper()
	f := &fixture{
		bench: sim.NewBench(1),
		clock: timeutil.NewMockClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)),
		store: &memStore{},
	}
	f.bench.Optimum = stage.Position{X: 0.2, Y: -0.1}
	session := stage.NewSession(f.bench, f.bench,
		stage.WithMover(f.bench),
		stage.WithClock(f.clock),
		stage.WithRandSource(rand.NewPCG(3, 4)),
	)
	if analyze == nil {
		analyze = func(img image.Image, opts geometry.Options) (geometry.Geometry, error) {
			f.calls++
			return geometry.Geometry{
				Core:     geometry.Region{Diameter: 8.2},
				Cladding: geometry.Region{Diameter: 125},
				MFD:      10.4,
				Index:    []float64{1.4682, 1.4629, 5.2, 2},
			}, nil
		}
	}
	f.orch = New(session, f.store, testConfig(),
		WithClock(f.clock),
		WithGeometry(analyze),
		WithRunID(func() string { return "run-1" }),
	)
	return f
}

func endFace() image.Image {
	return image.NewGray(image.Rect(0, 0, 16, 16))
}

func TestRunFullCharacterization(t *testing.T) {
	f := newFixture(t, nil)

	rec, err := f.orch.RunFullCharacterization(context.Background(), SampleMetadata{FiberType: "SMF-28", Image: endFace()})
	require.NoError(t, err)

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "SMF-28", rec.FiberType)
	assert.Equal(t, 1600.0, rec.Wavelength)
	assert.InDelta(t, -3.5, rec.Power, 1.5)
	assert.Equal(t, 10.4, rec.MFD)
	assert.Equal(t, 1.4682, rec.RefractiveIndexCore)
	assert.Equal(t, 1.4629, rec.RefractiveIndexClad)
	assert.Equal(t, 8.2, rec.CoreDiameter)
	assert.Equal(t, 125.0, rec.CladdingDiameter)
	assert.False(t, math.IsNaN(rec.Attenuation))
	assert.GreaterOrEqual(t, rec.Dispersion, 0.0)
	assert.False(t, rec.Timestamp.IsZero())
	assert.Equal(t, 1, f.calls)

	require.Len(t, f.store.saved, 1)
	saved := f.store.saved[0]
	saved.ID = rec.ID
	assert.Equal(t, rec, saved)

	wls := f.bench.Wavelengths()
	require.Len(t, wls, 32)
	assert.Equal(t, 1500.0, wls[0])
	assert.Equal(t, 1600.0, wls[31])
}

// fiberFace draws a bright core disk inside a dimmer cladding disk.
func fiberFace(size, coreR, cladR int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			switch r := math.Hypot(float64(x)+0.5-c, float64(y)+0.5-c); {
			case r <= float64(coreR):
				img.SetGray(x, y, color.Gray{Y: 255})
			case r <= float64(cladR):
				img.SetGray(x, y, color.Gray{Y: 120})
			}
		}
	}
	return img
}

func TestRunFullCharacterization_AnalyzesEndFace(t *testing.T) {
	f := newFixture(t, nil)
	f.orch.analyze = geometry.Analyze

	const size = 200
	rec, err := f.orch.RunFullCharacterization(context.Background(), SampleMetadata{FiberType: "MMF", Image: fiberFace(size, 20, 60)})
	require.NoError(t, err)

	assert.InDelta(t, 40, rec.CoreDiameter, 3)
	assert.InDelta(t, 120, rec.CladdingDiameter, 4)
	for name, v := range map[string]float64{"mfd": rec.MFD, "n_core": rec.RefractiveIndexCore, "n_clad": rec.RefractiveIndexClad} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), name)
	}
	assert.Positive(t, rec.MFD)
	assert.Less(t, rec.MFD, float64(size))
	assert.Greater(t, rec.RefractiveIndexCore, rec.RefractiveIndexClad)
	require.Len(t, f.store.saved, 1)
	assert.Equal(t, rec.MFD, f.store.saved[0].MFD)
}

func TestRunFullCharacterization_LoadsImagePath(t *testing.T) {
	var got image.Rectangle
	f := newFixture(t, func(img image.Image, _ geometry.Options) (geometry.Geometry, error) {
		got = img.Bounds()
		return geometry.Geometry{Index: []float64{1.46, 1.45, 4, 2}}, nil
	})

	path := filepath.Join(t.TempDir(), "face.png")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, image.NewGray(image.Rect(0, 0, 40, 30))))
	require.NoError(t, out.Close())

	_, err = f.orch.RunFullCharacterization(context.Background(), SampleMetadata{ImagePath: path})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 30), got)
}

func TestRunFullCharacterization_GeometryOptionsFromConfig(t *testing.T) {
	var opts geometry.Options
	f := newFixture(t, func(_ image.Image, o geometry.Options) (geometry.Geometry, error) {
		opts = o
		return geometry.Geometry{Index: []float64{1.46, 1.45, 4, 2}}, nil
	})
	f.orch.cfg.Geometry.MinArea = ptr(250)
	f.orch.cfg.Geometry.CheckPlausibility = ptr(true)

	_, err := f.orch.RunFullCharacterization(context.Background(), SampleMetadata{Image: endFace()})
	require.NoError(t, err)
	assert.Equal(t, 250, opts.MinArea)
	assert.True(t, opts.CheckPlausibility)
	assert.Equal(t, geometry.DefaultOptions().MedianRadius, opts.MedianRadius)
}

func TestRunFullCharacterization_FailuresSaveNothing(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		meta    SampleMetadata
		analyze GeometryFunc
		want    error
	}{
		{
			name:  "hardware failure during alignment",
			setup: func(f *fixture) { f.bench.FailAfter(3) },
			meta:  SampleMetadata{Image: endFace()},
			want:  fiberr.ErrHardwareRead,
		},
		{
			name:  "hardware failure during sweep",
			setup: func(f *fixture) { f.bench.FailAfter(20) },
			meta:  SampleMetadata{Image: endFace()},
			want:  fiberr.ErrHardwareRead,
		},
		{
			name: "geometry not found",
			meta: SampleMetadata{Image: endFace()},
			analyze: func(image.Image, geometry.Options) (geometry.Geometry, error) {
				return geometry.Geometry{}, fiberr.ErrGeometryNotFound
			},
			want: fiberr.ErrGeometryNotFound,
		},
		{
			name: "no image",
			meta: SampleMetadata{},
			want: fiberr.ErrInvalidConfiguration,
		},
		{
			name: "missing image file",
			meta: SampleMetadata{ImagePath: filepath.Join(os.TempDir(), "no-such-face.png")},
			want: os.ErrNotExist,
		},
		{
			name:  "invalid sweep configuration",
			setup: func(f *fixture) { f.orch.cfg.Sweep.Steps = ptr(1) },
			meta:  SampleMetadata{Image: endFace()},
			want:  fiberr.ErrInvalidConfiguration,
		},
		{
			name:  "sweep too short for dispersion",
			setup: func(f *fixture) { f.orch.cfg.Sweep.Steps = ptr(12) },
			meta:  SampleMetadata{Image: endFace()},
			want:  fiberr.ErrInsufficientData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.analyze)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.orch.RunFullCharacterization(context.Background(), tt.meta)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.store.saved)
		})
	}
}

func TestRunFullCharacterization_StoreError(t *testing.T) {
	f := newFixture(t, nil)
	f.store.err = errors.New("disk full")

	_, err := f.orch.RunFullCharacterization(context.Background(), SampleMetadata{Image: endFace()})
	assert.ErrorContains(t, err, "disk full")
}

func TestRunFullCharacterization_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.RunFullCharacterization(ctx, SampleMetadata{Image: endFace()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.bench.Moves())
	assert.Empty(t, f.store.saved)
}
