package signal

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

const (
	smoothingWindow = 11
	smoothingOrder  = 3
)

// MinDispersionSamples is the shortest series Dispersion accepts: the group
// delay must span at least one smoothing window.
const MinDispersionSamples = 2 * (smoothingWindow + 1)

// DispersionResult is the spectral decomposition of a power series.
type DispersionResult struct {
	// Frequencies holds the one-sided bins 0..n/2-1 in Hz.
	Frequencies []float64
	// Power is the unscaled |X(f)|² at each of Frequencies.
	Power []float64
	// GroupDelayFrequencies holds the bins the group delay is assigned to.
	GroupDelayFrequencies []float64
	// GroupDelay is the smoothed group delay in seconds.
	GroupDelay []float64
	// PMD is the population standard deviation of the unsmoothed group delay.
	PMD float64
}

// Dispersion estimates group delay and polarization mode dispersion from a
// time series sampled at samplingRate Hz. The DC bin is excluded from the
// phase so that mean removal does not pin the first delay.
func Dispersion(signal []float64, samplingRate float64) (DispersionResult, error) {
	if !finite(samplingRate) || samplingRate <= 0 {
		return DispersionResult{}, fmt.Errorf("dispersion: sampling rate %v: %w", samplingRate, fiberr.ErrInvalidConfiguration)
	}
	n := len(signal)
	if n < MinDispersionSamples {
		return DispersionResult{}, fmt.Errorf("dispersion: %d samples, need %d: %w", n, MinDispersionSamples, fiberr.ErrInsufficientData)
	}
	half := n / 2

	mean := stat.Mean(signal, nil)
	centered := make([]float64, n)
	for i, v := range signal {
		centered[i] = v - mean
	}
	spectrum := fft.FFTReal(centered)

	df := samplingRate / float64(n)
	res := DispersionResult{
		Frequencies: make([]float64, half),
		Power:       make([]float64, half),
	}
	for k := 0; k < half; k++ {
		res.Frequencies[k] = float64(k) * df
		a := cmplx.Abs(spectrum[k])
		res.Power[k] = a * a
	}

	phase := make([]float64, half)
	for k := 1; k <= half; k++ {
		phase[k-1] = cmplx.Phase(spectrum[k])
	}
	unwrap(phase)

	delay := make([]float64, half-1)
	res.GroupDelayFrequencies = make([]float64, half-1)
	for j := range delay {
		delay[j] = -(phase[j+1] - phase[j]) / (2 * math.Pi * df)
		res.GroupDelayFrequencies[j] = float64(j+1) * df
	}

	smoothed, err := SavitzkyGolay(delay, smoothingWindow, smoothingOrder)
	if err != nil {
		return DispersionResult{}, fmt.Errorf("dispersion smoothing: %w", err)
	}
	res.GroupDelay = smoothed
	res.PMD = stat.PopStdDev(delay, nil)
	return res, nil
}

// unwrap removes 2π jumps between consecutive phases in place.
func unwrap(phase []float64) {
	var offset float64
	prev := 0.0
	for i, p := range phase {
		if i > 0 {
			d := p - prev
			offset -= 2 * math.Pi * math.Round(d/(2*math.Pi))
		}
		prev = p
		phase[i] = p + offset
	}
}
