// Package sim provides a simulated bench: a tunable laser, a power meter and a
// two-axis positioner whose coupled power falls off quadratically (in dB)
// away from an optimum position and a reference wavelength.
package sim

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/FakeCoder01/fiber-characterization-system/internal/stage"
)

// ErrInjected is returned by reads after FailAfter has been exhausted.
var ErrInjected = errors.New("simulated hardware failure")

// Bench is a goroutine-safe simulated laser, detector and positioner.
type Bench struct {
	mu sync.Mutex

	// PeakPower is the coupled power at the optimum, in dBm.
	PeakPower float64
	// Optimum is the best-coupling position.
	Optimum stage.Position
	// PositionLoss is the dB lost per unit squared distance from Optimum.
	PositionLoss float64
	// CenterWavelength is where spectral loss is zero, in nm.
	CenterWavelength float64
	// SpectralLoss is the dB lost per nm squared away from CenterWavelength.
	SpectralLoss float64
	// NoiseStdDev adds Gaussian read noise in dB when positive.
	NoiseStdDev float64

	wavelength float64
	power      float64
	output     bool
	position   stage.Position
	rng        *rand.Rand

	reads     int
	failAfter int
	moves     []stage.Position
	setWls    []float64
}

// NewBench returns a bench peaking at -3 dBm at the origin and 1550 nm.
func NewBench(seed uint64) *Bench {
	return &Bench{
		PeakPower:        -3,
		PositionLoss:     2,
		CenterWavelength: 1550,
		SpectralLoss:     0.0005,
		wavelength:       1550,
		rng:              rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		failAfter:        -1,
	}
}

// FailAfter lets the next n reads succeed and fails every later read with
// ErrInjected. A negative n disables failure injection.
func (b *Bench) FailAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAfter = n
	b.reads = 0
}

func (b *Bench) SetWavelength(nm float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wavelength = nm
	b.setWls = append(b.setWls, nm)
	return nil
}

func (b *Bench) SetPower(dbm float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.power = dbm
	return nil
}

func (b *Bench) EnableOutput(on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = on
	return nil
}

// OutputEnabled reports the laser output state.
func (b *Bench) OutputEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

func (b *Bench) CurrentWavelength() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.countRead(); err != nil {
		return 0, err
	}
	return b.wavelength, nil
}

func (b *Bench) ReadPower() (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.countRead(); err != nil {
		return 0, err
	}
	return b.powerAt(b.position, b.wavelength), nil
}

func (b *Bench) MoveTo(p stage.Position) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.position = p
	b.moves = append(b.moves, p)
	return nil
}

// PowerAt returns the noiseless power at a position and wavelength.
func (b *Bench) PowerAt(p stage.Position, nm float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.noiseless(p, nm)
}

// Moves returns every position the bench was moved to.
func (b *Bench) Moves() []stage.Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stage.Position(nil), b.moves...)
}

// Wavelengths returns every wavelength the laser was tuned to.
func (b *Bench) Wavelengths() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.setWls...)
}

func (b *Bench) countRead() error {
	if b.failAfter >= 0 && b.reads >= b.failAfter {
		return ErrInjected
	}
	b.reads++
	return nil
}

func (b *Bench) noiseless(p stage.Position, nm float64) float64 {
	dx, dy := p.X-b.Optimum.X, p.Y-b.Optimum.Y
	dl := nm - b.CenterWavelength
	return b.PeakPower - b.PositionLoss*(dx*dx+dy*dy) - b.SpectralLoss*dl*dl
}

func (b *Bench) powerAt(p stage.Position, nm float64) float64 {
	v := b.noiseless(p, nm)
	if b.NoiseStdDev > 0 {
		v += b.rng.NormFloat64() * b.NoiseStdDev
	}
	return v
}
