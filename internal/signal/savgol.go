package signal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

// SavitzkyGolay smooths x with a least-squares polynomial of the given order
// over a sliding window. Interior points use the centre row of the smoothing
// matrix; the first and last half-window points are taken from the polynomial
// fitted to the first and last full window.
func SavitzkyGolay(x []float64, window, order int) ([]float64, error) {
	if order < 0 || window < 1 || window%2 == 0 || window <= order {
		return nil, fmt.Errorf("savitzky-golay window %d order %d: %w", window, order, fiberr.ErrInvalidConfiguration)
	}
	n := len(x)
	if n < window {
		return nil, fmt.Errorf("savitzky-golay needs %d samples, have %d: %w", window, n, fiberr.ErrInsufficientData)
	}

	h := hatMatrix(window, order)
	half := window / 2
	out := make([]float64, n)

	apply := func(row, start int) float64 {
		var sum float64
		for j := 0; j < window; j++ {
			sum += h.At(row, j) * x[start+j]
		}
		return sum
	}

	for k := 0; k < half; k++ {
		out[k] = apply(k, 0)
	}
	for k := half; k < n-half; k++ {
		out[k] = apply(half, k-half)
	}
	last := n - window
	for k := n - half; k < n; k++ {
		out[k] = apply(k-last, last)
	}
	return out, nil
}

// hatMatrix returns the window×window projection onto polynomials of the
// given order. Row i evaluates the window's fitted polynomial at offset i.
func hatMatrix(window, order int) *mat.Dense {
	half := window / 2
	scale := float64(half)
	if scale == 0 {
		scale = 1
	}
	cols := order + 1
	v := mat.NewDense(window, cols, nil)
	for i := 0; i < window; i++ {
		z := float64(i-half) / scale
		p := 1.0
		for j := 0; j < cols; j++ {
			v.Set(i, j, p)
			p *= z
		}
	}

	var qr mat.QR
	qr.Factorize(v)
	var q mat.Dense
	qr.QTo(&q)
	q1 := q.Slice(0, window, 0, cols)

	var h mat.Dense
	h.Mul(q1, q1.T())
	return &h
}
