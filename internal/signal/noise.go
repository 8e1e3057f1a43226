package signal

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// NoiseResult summarizes the residual after smoothing.
type NoiseResult struct {
	// SNR is 20·log10(peak/σ) in dB, +Inf for a noiseless signal (null in
	// JSON).
	SNR        float64
	NoiseFloor float64
	Filtered   []float64
}

// NoiseSNR smooths signal with a cubic Savitzky-Golay filter of the given
// odd window and treats the residual as noise. The peak is the largest
// absolute sample.
func NoiseSNR(signal []float64, window int) (NoiseResult, error) {
	filtered, err := SavitzkyGolay(signal, window, smoothingOrder)
	if err != nil {
		return NoiseResult{}, fmt.Errorf("noise: %w", err)
	}

	noise := make([]float64, len(signal))
	var peak, floor float64
	for i, v := range signal {
		noise[i] = v - filtered[i]
		peak = math.Max(peak, math.Abs(v))
		floor += math.Abs(noise[i])
	}
	floor /= float64(len(signal))

	sigma := stat.PopStdDev(noise, nil)
	snr := math.Inf(1)
	if sigma > 0 {
		snr = 20 * math.Log10(peak/sigma)
	}
	return NoiseResult{SNR: snr, NoiseFloor: floor, Filtered: filtered}, nil
}

// MarshalJSON encodes an unbounded SNR as null; JSON has no infinity.
func (r NoiseResult) MarshalJSON() ([]byte, error) {
	var snr *float64
	if !math.IsInf(r.SNR, 0) && !math.IsNaN(r.SNR) {
		snr = &r.SNR
	}
	return json.Marshal(struct {
		SNR        *float64
		NoiseFloor float64
		Filtered   []float64
	}{snr, r.NoiseFloor, r.Filtered})
}
