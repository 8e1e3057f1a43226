package signal

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

func TestSavitzkyGolay_PreservesPolynomials(t *testing.T) {
	x := make([]float64, 40)
	for i := range x {
		f := float64(i)
		x[i] = 0.5*f*f*f - 3*f*f + f - 7
	}

	out, err := SavitzkyGolay(x, 11, 3)
	require.NoError(t, err)
	require.Len(t, out, len(x))
	for i := range x {
		assert.InDelta(t, x[i], out[i], 1e-6*math.Max(1, math.Abs(x[i])), "index %d", i)
	}
}

func TestSavitzkyGolay_ReducesNoise(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	x := make([]float64, 200)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	out, err := SavitzkyGolay(x, 21, 2)
	require.NoError(t, err)
	assert.Less(t, variance(out), variance(x)/2)
}

func TestSavitzkyGolay_Validation(t *testing.T) {
	tests := []struct {
		name          string
		n             int
		window, order int
		want          error
	}{
		{"even window", 20, 10, 3, fiberr.ErrInvalidConfiguration},
		{"window not above order", 20, 3, 3, fiberr.ErrInvalidConfiguration},
		{"negative order", 20, 5, -1, fiberr.ErrInvalidConfiguration},
		{"short input", 8, 11, 3, fiberr.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SavitzkyGolay(make([]float64, tt.n), tt.window, tt.order)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAttenuation_ExactExponential(t *testing.T) {
	var x, y []float64
	for d := 0.0; d <= 100; d += 10 {
		x = append(x, d)
		y = append(y, 5*math.Exp(-0.01*d))
	}

	res, err := Attenuation(y, x)
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Coefficient, 1e-4)
	assert.InDelta(t, 5, res.InitialPower, 1e-6)
	assert.InDelta(t, 1, res.RSquared, 1e-9)
	assert.Equal(t, res.RSquared, res.Fit.Goodness)
}

func TestAttenuation_NoisyDecay(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	var x, y []float64
	for d := 0.0; d <= 200; d += 5 {
		x = append(x, d)
		y = append(y, 2*math.Exp(-0.02*d)*(1+0.01*rng.NormFloat64()))
	}

	res, err := Attenuation(y, x)
	require.NoError(t, err)
	assert.InDelta(t, 200, res.Coefficient, 10)
	assert.InDelta(t, 2, res.InitialPower, 0.05)
	assert.Greater(t, res.RSquared, 0.99)
}

func TestAttenuation_NonPositivePowersStillFit(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{1, 0.5, 0.25, 0.125, 0}

	res, err := Attenuation(y, x)
	require.NoError(t, err)
	assert.Greater(t, res.Coefficient, 0.0)
}

func TestAttenuation_InsufficientData(t *testing.T) {
	_, err := Attenuation([]float64{1, 2, 3}, []float64{1, 1, 2})
	assert.ErrorIs(t, err, fiberr.ErrInsufficientData)

	_, err = Attenuation([]float64{1, 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, fiberr.ErrInsufficientData)
}

func TestDispersion_ConstantPhase(t *testing.T) {
	x := make([]float64, 64)
	x[0] = 1

	res, err := Dispersion(x, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.PMD, 1e-9)
	assert.Len(t, res.Frequencies, 32)
	assert.Len(t, res.Power, 32)
	assert.Len(t, res.GroupDelay, 31)
	assert.Len(t, res.GroupDelayFrequencies, 31)
	assert.InDelta(t, 1000.0/64, res.GroupDelayFrequencies[0], 1e-12)
	assert.InDelta(t, 31*1000.0/64, res.Frequencies[31], 1e-9)
	assert.InDelta(t, 0, res.Power[0], 1e-12)
	// a unit impulse has a flat unscaled spectrum
	for _, p := range res.Power[1:] {
		assert.InDelta(t, 1, p, 1e-9)
	}
	for _, d := range res.GroupDelay {
		assert.InDelta(t, 0, d, 1e-9)
	}
}

func TestDispersion_DelayedImpulse(t *testing.T) {
	const fs = 200.0
	x := make([]float64, 64)
	x[4] = 1

	res, err := Dispersion(x, fs)
	require.NoError(t, err)
	assert.InDelta(t, 0, res.PMD, 1e-9)
	for _, d := range res.GroupDelay {
		assert.InDelta(t, 4/fs, d, 1e-9)
	}
}

func TestDispersion_Validation(t *testing.T) {
	_, err := Dispersion(make([]float64, 10), 1000)
	assert.ErrorIs(t, err, fiberr.ErrInsufficientData)

	_, err = Dispersion(make([]float64, MinDispersionSamples-1), 1000)
	assert.ErrorIs(t, err, fiberr.ErrInsufficientData)

	_, err = Dispersion(make([]float64, MinDispersionSamples), 1000)
	assert.NoError(t, err)
	assert.Equal(t, 24, MinDispersionSamples)

	_, err = Dispersion(make([]float64, 64), 0)
	assert.ErrorIs(t, err, fiberr.ErrInvalidConfiguration)
}

func TestNoiseSNR_IncreasesAsNoiseDecreases(t *testing.T) {
	levels := []float64{0.2, 0.05, 0.01}
	var prev float64
	for i, level := range levels {
		rng := rand.New(rand.NewPCG(3, 5))
		x := make([]float64, 1000)
		for j := range x {
			x[j] = math.Sin(2*math.Pi*float64(j)/1000) + level*rng.NormFloat64()
		}

		res, err := NoiseSNR(x, 51)
		require.NoError(t, err)
		require.Len(t, res.Filtered, len(x))
		assert.Greater(t, res.NoiseFloor, 0.0)
		if i > 0 {
			assert.Greater(t, res.SNR, prev, "noise level %v", level)
		}
		prev = res.SNR
	}
}

func TestNoiseResult_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(NoiseResult{SNR: math.Inf(1), NoiseFloor: 0, Filtered: []float64{1, 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"SNR":null,"NoiseFloor":0,"Filtered":[1,1]}`, string(raw))

	raw, err = json.Marshal(NoiseResult{SNR: 42.5})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"SNR":42.5`)
}

func TestNoiseSNR_Validation(t *testing.T) {
	_, err := NoiseSNR(make([]float64, 100), 4)
	assert.ErrorIs(t, err, fiberr.ErrInvalidConfiguration)

	_, err = NoiseSNR(make([]float64, 100), 3)
	assert.ErrorIs(t, err, fiberr.ErrInvalidConfiguration)

	_, err = NoiseSNR(make([]float64, 10), 11)
	assert.ErrorIs(t, err, fiberr.ErrInsufficientData)
}

func TestUnwrap(t *testing.T) {
	p := []float64{3, -3, -0.5, 2.8, -3.2}
	unwrap(p)
	for i := 1; i < len(p); i++ {
		assert.LessOrEqual(t, math.Abs(p[i]-p[i-1]), math.Pi)
	}
	assert.InDelta(t, 3, p[0], 1e-12)
}

func variance(x []float64) float64 {
	var m float64
	for _, v := range x {
		m += v
	}
	m /= float64(len(x))
	var s float64
	for _, v := range x {
		s += (v - m) * (v - m)
	}
	return s / float64(len(x))
}
