// Package stage owns the shared laser/detector/positioner state of one
// measurement bench. A Session grants exclusive use of the bench to one
// alignment or sweep run at a time; overlapping runs are rejected rather than
// queued.
package stage

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/instrument"
	"github.com/FakeCoder01/fiber-characterization-system/internal/timeutil"
)

// Default settle delays between commanding hardware and reading the detector.
const (
	DefaultSweepSettle = 100 * time.Millisecond
	DefaultMoveSettle  = 50 * time.Millisecond
)

// Position is an (x, y) offset of the fiber from the reference origin.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p offset by (dx, dy).
func (p Position) Add(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Mover physically positions the fiber. A Session without a Mover tracks the
// position logically and only waits the move settle delay.
type Mover interface {
	MoveTo(p Position) error
}

// Session is the single-owner handle on a bench.
type Session struct {
	laser    instrument.Laser
	detector instrument.Detector
	mover    Mover

	clock       timeutil.Clock
	sweepSettle time.Duration
	moveSettle  time.Duration
	src         rand.Source

	// run is held for the whole of an Optimize or Sweep.
	run sync.Mutex

	mu         sync.RWMutex
	position   Position
	wavelength float64
}

// Option configures a Session.
type Option func(*Session)

// WithMover attaches a physical positioner.
func WithMover(m Mover) Option {
	return func(s *Session) { s.mover = m }
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSettle sets the per-step settle delays for sweeps and stage moves.
func WithSettle(sweep, move time.Duration) Option {
	return func(s *Session) {
		s.sweepSettle = sweep
		s.moveSettle = move
	}
}

// WithRandSource sets the source of the alignment perturbations.
func WithRandSource(src rand.Source) Option {
	return func(s *Session) { s.src = src }
}

// WithStartPosition sets the initial position.
func WithStartPosition(p Position) Option {
	return func(s *Session) { s.position = p }
}

// NewSession creates a session over the given laser and detector.
func NewSession(laser instrument.Laser, detector instrument.Detector, opts ...Option) *Session {
	s := &Session{
		laser:       laser,
		detector:    detector,
		clock:       timeutil.RealClock{},
		sweepSettle: DefaultSweepSettle,
		moveSettle:  DefaultMoveSettle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.src == nil {
		seed := uint64(time.Now().UnixNano())
		s.src = rand.NewPCG(seed, seed>>1)
	}
	return s
}

// Position returns the current position of the stage.
func (s *Session) Position() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// Wavelength returns the last wavelength commanded by a sweep.
func (s *Session) Wavelength() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wavelength
}

// Busy reports whether an alignment or sweep currently holds the session.
func (s *Session) Busy() bool {
	if s.run.TryLock() {
		s.run.Unlock()
		return false
	}
	return true
}

func (s *Session) acquire(op string) error {
	if !s.run.TryLock() {
		return fmt.Errorf("%s: %w", op, fiberr.ErrConcurrentAccess)
	}
	return nil
}

func (s *Session) moveTo(p Position) error {
	if s.mover != nil {
		if err := s.mover.MoveTo(p); err != nil {
			return fmt.Errorf("move to (%.4f, %.4f): %w: %w", p.X, p.Y, fiberr.ErrHardwareWrite, err)
		}
	}
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
	s.clock.Sleep(s.moveSettle)
	return nil
}

func (s *Session) setWavelength(nm float64) error {
	if err := s.laser.SetWavelength(nm); err != nil {
		return fmt.Errorf("set wavelength %.4f nm: %w: %w", nm, fiberr.ErrHardwareWrite, err)
	}
	s.mu.Lock()
	s.wavelength = nm
	s.mu.Unlock()
	return nil
}

func (s *Session) readPower() (float64, error) {
	p, err := s.detector.ReadPower()
	if err != nil {
		return 0, fmt.Errorf("read power: %w: %w", fiberr.ErrHardwareRead, err)
	}
	return p, nil
}
