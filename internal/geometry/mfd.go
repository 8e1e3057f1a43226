package geometry

import (
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
	"github.com/FakeCoder01/fiber-characterization-system/internal/fit"
)

// IndexSeed is the starting point {n_core, n_clad, r_core, alpha} for MFD.
var IndexSeed = []float64{1.46, 1.44, 50, 2}

// indexLower keeps r_core and alpha positive. Outside that domain the profile
// collapses to a constant and the fit stalls on a plateau.
var indexLower = []float64{math.Inf(-1), math.Inf(-1), 0, 0}

// MFDResult is a fitted refractive-index profile.
type MFDResult struct {
	Fit fit.Result
	// Diameter is ModeFieldDiameter(Fit.Params).
	Diameter float64
	Profile  []float64
}

// IndexProfile evaluates n(r) = n_clad + (n_core − n_clad)·exp(−(r/r_core)^alpha).
func IndexProfile(r float64, p []float64) float64 {
	return p[1] + (p[0]-p[1])*math.Exp(-math.Pow(r/p[2], p[3]))
}

// ModeFieldDiameter returns 2·r_core for parameters fitted by MFD.
func ModeFieldDiameter(params []float64) float64 {
	if len(params) < 3 {
		return 0
	}
	return 2 * params[2]
}

// FitIndexProfile fits IndexProfile to (r, y) from IndexSeed. The seed's
// r_core and alpha are kept; n_core and n_clad enter the model linearly, so
// they are first solved by regression against the seed's shape.
func FitIndexProfile(r, y []float64) (fit.Result, error) {
	return fit.Curve(IndexProfile, r, y, indexSeed(r, y), &fit.Options{Lower: indexLower})
}

func indexSeed(r, y []float64) []float64 {
	seed := append([]float64(nil), IndexSeed...)
	if len(r) != len(y) || len(r) < 2 {
		return seed
	}
	shape := make([]float64, len(r))
	for i, v := range r {
		shape[i] = math.Exp(-math.Pow(v/seed[2], seed[3]))
	}
	nClad, contrast := stat.LinearRegression(shape, y, nil, false)
	if math.IsNaN(nClad) || math.IsNaN(contrast) || math.IsInf(nClad, 0) || math.IsInf(contrast, 0) {
		return seed
	}
	seed[0], seed[1] = nClad+contrast, nClad
	return seed
}

// MFD fits IndexProfile to the peak-normalized intensity along the centre row
// of the median-smoothed image. A failed fit is returned as is; reseeding is
// left to the caller.
func MFD(img image.Image) (MFDResult, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < len(IndexSeed) || h == 0 {
		return MFDResult{}, fmt.Errorf("mfd: %dx%d image: %w", w, h, fiberr.ErrInsufficientData)
	}

	lum := luminance(smooth(img, DefaultOptions().MedianRadius))
	row := h / 2
	profile := make([]float64, w)
	for x := range profile {
		profile[x] = float64(lum[row*w+x])
	}
	peak := floats.Max(profile)
	if peak == 0 {
		return MFDResult{}, fmt.Errorf("mfd: centre row is dark: %w", fiberr.ErrInsufficientData)
	}
	floats.Scale(1/peak, profile)

	cx := float64(w-1) / 2
	radius := make([]float64, w)
	for x := range radius {
		radius[x] = math.Abs(float64(x) - cx)
	}

	res, err := FitIndexProfile(radius, profile)
	if err != nil {
		return MFDResult{}, fmt.Errorf("mfd fit: %w", err)
	}
	return MFDResult{Fit: res, Diameter: ModeFieldDiameter(res.Params), Profile: profile}, nil
}
