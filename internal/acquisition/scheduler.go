// Package acquisition runs the fixed-interval sampling loop that feeds the
// sample stream from the laser and detector.
package acquisition

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
	"github.com/FakeCoder01/fiber-characterization-system/internal/stream"
	"github.com/FakeCoder01/fiber-characterization-system/internal/timeutil"
)

// ErrAlreadyRunning is returned by Start while a loop is active.
var ErrAlreadyRunning = errors.New("acquisition already running")

// WavelengthReader reports the current source wavelength in nm.
type WavelengthReader interface {
	CurrentWavelength() (float64, error)
}

// PowerReader reports the detected power in dBm.
type PowerReader interface {
	ReadPower() (float64, error)
}

// Scheduler polls the hardware at a fixed interval and publishes one Sample
// per tick. A failed read is never retried: it closes the stream with the
// error and ends the loop, so consumers see closure rather than a gap.
type Scheduler struct {
	laser    WavelengthReader
	detector PowerReader
	out      *stream.Stream
	clock    timeutil.Clock

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	err     error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler creates a scheduler that publishes into out.
func NewScheduler(laser WavelengthReader, detector PowerReader, out *stream.Stream, opts ...Option) *Scheduler {
	s := &Scheduler{
		laser:    laser,
		detector: detector,
		out:      out,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins polling every interval. The ticker is created before Start
// returns. A loop that ended on a hardware failure still has to be joined
// with Stop before the scheduler can be started again.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("acquisition interval %v: %w", interval, fiberr.ErrInvalidConfiguration)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.err = nil
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	ticker := s.clock.NewTicker(interval)
	go s.loop(ticker, s.stop, s.done)

	monitoring.Logf("acquisition: started, interval %v", interval)
	return nil
}

// Stop signals the loop and blocks until it has exited. It returns the error
// that ended the loop, or nil for a clean stop. Stop on an idle scheduler
// returns the result of the previous run.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		err := s.err
		s.mu.Unlock()
		return err
	}
	stop, done := s.stop, s.done
	s.mu.Unlock()

	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	monitoring.Logf("acquisition: stopped")
	return s.err
}

// Done is closed when the current loop exits, whether stopped or failed.
// It returns nil if Start has never been called.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that terminated the last loop, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) loop(ticker timeutil.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		// stop is only honoured between samples
		sample, err := s.read()
		if err != nil {
			s.fail(err)
			return
		}
		if err := s.out.Publish(sample); err != nil {
			s.fail(fmt.Errorf("publish sample: %w", err))
			return
		}
	}
}

func (s *Scheduler) read() (stream.Sample, error) {
	wl, err := s.laser.CurrentWavelength()
	if err != nil {
		return stream.Sample{}, fmt.Errorf("read wavelength: %w: %w", fiberr.ErrHardwareRead, err)
	}
	power, err := s.detector.ReadPower()
	if err != nil {
		return stream.Sample{}, fmt.Errorf("read power: %w: %w", fiberr.ErrHardwareRead, err)
	}
	return stream.Sample{
		Timestamp:  s.clock.Now(),
		Wavelength: wl,
		Power:      power,
	}, nil
}

func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.out.CloseWithError(err)
	monitoring.Logf("acquisition: terminated: %v", err)
}
