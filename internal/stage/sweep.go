package stage

import (
	"fmt"
	"iter"
	"math"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
)

// SpectralPoint is one step of a wavelength sweep.
type SpectralPoint struct {
	Wavelength float64 `json:"wavelength_nm"`
	Power      float64 `json:"power_dbm"`
}

// Linspace returns n evenly spaced values from start to stop inclusive. The
// last value is exactly stop.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Sweep validates the request and returns a lazy sequence of steps points
// linearly spaced from start to stop. Nothing touches the hardware until the
// sequence is ranged over; each range re-runs the sweep from the start.
//
// A range holds the session for its duration. If another run holds it the
// sequence yields a single fiberr.ErrConcurrentAccess. A hardware failure is
// yielded once and ends the sequence.
func (s *Session) Sweep(start, stop float64, steps int) (iter.Seq2[SpectralPoint, error], error) {
	if steps < 2 {
		return nil, fmt.Errorf("sweep: need at least 2 steps, got %d: %w", steps, fiberr.ErrInvalidConfiguration)
	}
	if math.IsNaN(start) || math.IsNaN(stop) || math.IsInf(start, 0) || math.IsInf(stop, 0) {
		return nil, fmt.Errorf("sweep: non-finite range [%v, %v]: %w", start, stop, fiberr.ErrInvalidConfiguration)
	}
	if start == stop {
		return nil, fmt.Errorf("sweep: degenerate range %v..%v: %w", start, stop, fiberr.ErrInvalidConfiguration)
	}
	wavelengths := Linspace(start, stop, steps)

	return func(yield func(SpectralPoint, error) bool) {
		if err := s.acquire("sweep"); err != nil {
			yield(SpectralPoint{}, err)
			return
		}
		defer s.run.Unlock()

		monitoring.Logf("sweep: %d points %.3f..%.3f nm", steps, start, stop)
		for _, wl := range wavelengths {
			if err := s.setWavelength(wl); err != nil {
				yield(SpectralPoint{}, fmt.Errorf("sweep: %w", err))
				return
			}
			s.clock.Sleep(s.sweepSettle)
			power, err := s.readPower()
			if err != nil {
				yield(SpectralPoint{}, fmt.Errorf("sweep at %.4f nm: %w", wl, err))
				return
			}
			if !yield(SpectralPoint{Wavelength: wl, Power: power}, nil) {
				return
			}
		}
	}, nil
}

// CollectSweep runs a sweep to completion and returns its wavelength and power
// series.
func CollectSweep(seq iter.Seq2[SpectralPoint, error]) (wavelengths, powers []float64, err error) {
	for pt, perr := range seq {
		if perr != nil {
			return nil, nil, perr
		}
		wavelengths = append(wavelengths, pt.Wavelength)
		powers = append(powers, pt.Power)
	}
	return wavelengths, powers, nil
}
