// Package signal analyzes optical power series: exponential attenuation,
// spectral group delay and noise.
package signal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/fit"
	"github.com/FakeCoder01/fiber-characterization-system/internal/units"
)

// AttenuationResult describes p(x) = InitialPower·exp(−α·x).
type AttenuationResult struct {
	// Coefficient is α scaled by units.AttenuationScale.
	Coefficient  float64
	InitialPower float64
	RSquared     float64
	Fit          fit.Result
}

func exponential(x float64, p []float64) float64 {
	return p[0] * math.Exp(-p[1]*x)
}

// Attenuation fits an exponential decay of powers over distances.
func Attenuation(powers, distances []float64) (AttenuationResult, error) {
	if len(powers) != len(distances) {
		return AttenuationResult{}, fmt.Errorf("attenuation: %d powers for %d distances: %w",
			len(powers), len(distances), fiberr.ErrInsufficientData)
	}
	if distinct(distances) < 3 {
		return AttenuationResult{}, fmt.Errorf("attenuation: fewer than 3 distinct distances: %w", fiberr.ErrInsufficientData)
	}
	for i := range powers {
		if !finite(powers[i]) || !finite(distances[i]) {
			return AttenuationResult{}, fmt.Errorf("attenuation: non-finite value at %d: %w", i, fiberr.ErrInvalidConfiguration)
		}
	}

	res, err := fit.Curve(exponential, distances, powers, attenuationSeed(powers, distances), nil)
	if err != nil {
		return AttenuationResult{}, fmt.Errorf("attenuation fit: %w", err)
	}
	return AttenuationResult{
		Coefficient:  res.Params[1] * units.AttenuationScale,
		InitialPower: res.Params[0],
		RSquared:     res.Goodness,
		Fit:          res,
	}, nil
}

// attenuationSeed regresses ln(p) on x when every power is positive and
// otherwise starts from a flat curve at the largest power.
func attenuationSeed(powers, distances []float64) []float64 {
	logs := make([]float64, len(powers))
	for i, p := range powers {
		if p <= 0 {
			return []float64{floats.Max(powers), 0}
		}
		logs[i] = math.Log(p)
	}
	intercept, slope := stat.LinearRegression(distances, logs, nil, false)
	if !finite(intercept) || !finite(slope) {
		return []float64{floats.Max(powers), 0}
	}
	return []float64{math.Exp(intercept), -slope}
}

func distinct(v []float64) int {
	seen := make(map[float64]struct{}, len(v))
	for _, x := range v {
		seen[x] = struct{}{}
	}
	return len(seen)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
