package stage

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/monitoring"
)

// Covariance is the 2x2 covariance of one random-walk step.
type Covariance [2][2]float64

// IsotropicCovariance returns variance on both axes and no correlation.
func IsotropicCovariance(variance float64) Covariance {
	return Covariance{{variance, 0}, {0, variance}}
}

// Trial is one visited position and the power read there.
type Trial struct {
	Position Position `json:"position"`
	Power    float64  `json:"power_dbm"`
}

// AlignResult is the outcome of Optimize. Power is only meaningful when
// PowerValid is true; a zero-step run never reads the detector.
type AlignResult struct {
	Position   Position `json:"position"`
	Power      float64  `json:"power_dbm"`
	PowerValid bool     `json:"power_valid"`
	Trials     []Trial  `json:"trials,omitempty"`
}

// Optimize runs a fixed-length random walk from the current position and
// returns the position with the highest detector power seen.
//
// Every step draws a zero-mean Gaussian perturbation with covariance cov, moves
// the stage there and reads the detector. The walk never rejects a move; it
// only remembers the best reading, replacing it on strictly greater power.
// When the walk ends the stage is returned to the best position.
//
// The session is held for the whole run. A concurrent Optimize or Sweep fails
// with fiberr.ErrConcurrentAccess. There is no mid-run cancellation.
func (s *Session) Optimize(steps int, cov Covariance) (AlignResult, error) {
	if steps < 0 {
		return AlignResult{}, fmt.Errorf("optimize: negative step count %d: %w", steps, fiberr.ErrInvalidConfiguration)
	}
	sigma, err := cov.symmetric()
	if err != nil {
		return AlignResult{}, fmt.Errorf("optimize: %w", err)
	}

	if err := s.acquire("optimize"); err != nil {
		return AlignResult{}, err
	}
	defer s.run.Unlock()

	start := s.Position()
	if steps == 0 {
		return AlignResult{Position: start}, nil
	}

	normal, ok := distmv.NewNormal([]float64{0, 0}, sigma, s.src)
	if !ok {
		return AlignResult{}, fmt.Errorf("optimize: covariance is not positive definite: %w", fiberr.ErrInvalidConfiguration)
	}

	monitoring.Logf("alignment: %d steps from (%.4f, %.4f)", steps, start.X, start.Y)

	var (
		current   = start
		best      = start
		bestPower = math.Inf(-1)
		haveBest  bool
		delta     = make([]float64, 2)
		trials    = make([]Trial, 0, steps)
	)
	for i := 0; i < steps; i++ {
		normal.Rand(delta)
		current = current.Add(delta[0], delta[1])
		if err := s.moveTo(current); err != nil {
			return AlignResult{}, fmt.Errorf("optimize step %d: %w", i, err)
		}
		power, err := s.readPower()
		if err != nil {
			return AlignResult{}, fmt.Errorf("optimize step %d: %w", i, err)
		}
		trials = append(trials, Trial{Position: current, Power: power})

		if !haveBest || power > bestPower {
			best, bestPower, haveBest = current, power, true
		}
	}

	if err := s.moveTo(best); err != nil {
		return AlignResult{}, fmt.Errorf("optimize: return to best: %w", err)
	}
	monitoring.Logf("alignment: best %.3f dBm at (%.4f, %.4f)", bestPower, best.X, best.Y)

	return AlignResult{
		Position:   best,
		Power:      bestPower,
		PowerValid: true,
		Trials:     trials,
	}, nil
}

func (c Covariance) symmetric() (*mat.SymDense, error) {
	for _, row := range c {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("covariance has non-finite entry: %w", fiberr.ErrInvalidConfiguration)
			}
		}
	}
	if c[0][1] != c[1][0] {
		return nil, fmt.Errorf("covariance is not symmetric: %w", fiberr.ErrInvalidConfiguration)
	}
	if c[0][0] <= 0 || c[1][1] <= 0 || c[0][0]*c[1][1]-c[0][1]*c[1][0] <= 0 {
		return nil, fmt.Errorf("covariance is not positive definite: %w", fiberr.ErrInvalidConfiguration)
	}
	return mat.NewSymDense(2, []float64{c[0][0], c[0][1], c[1][0], c[1][1]}), nil
}
