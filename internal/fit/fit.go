// Package fit provides nonlinear least-squares curve fitting.
//
// Curve implements Levenberg-Marquardt with a central finite-difference
// Jacobian. A failed fit reports the seed it started from so the caller can
// decide whether to reseed; there is no automatic retry.
package fit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/FakeCoder01/fiber-characterization-system/internal/fiberr"
)

// Model evaluates a curve at x for parameters p.
type Model func(x float64, p []float64) float64

// Result is an immutable fit outcome.
type Result struct {
	// Params holds the fitted parameters in model order.
	Params []float64
	// Goodness is the coefficient of determination, 1 - SSres/SStot.
	Goodness float64
	// Covariance estimates the parameter covariance. It is nil when the
	// problem has no residual degrees of freedom or JᵀJ is singular.
	Covariance *mat.SymDense
	// Iterations is the number of accepted steps.
	Iterations int
}

// MarshalJSON writes Covariance as nested rows, null when absent.
func (r Result) MarshalJSON() ([]byte, error) {
	var cov [][]float64
	if r.Covariance != nil {
		k := r.Covariance.SymmetricDim()
		cov = make([][]float64, k)
		for i := range cov {
			cov[i] = make([]float64, k)
			for j := range cov[i] {
				cov[i][j] = r.Covariance.At(i, j)
			}
		}
	}
	return json.Marshal(struct {
		Params     []float64
		Goodness   float64
		Covariance [][]float64
		Iterations int
	}{r.Params, r.Goodness, cov, r.Iterations})
}

// Options tunes Curve. The zero value selects the defaults.
type Options struct {
	// MaxIterations bounds accepted plus rejected steps. Default 200·(k+1).
	MaxIterations int
	// FTol is the relative cost reduction below which the fit has converged.
	FTol float64
	// XTol is the relative step size below which the fit has converged.
	XTol float64
	// GTol is the gradient infinity norm below which the fit has converged.
	GTol float64
	// Lower holds exclusive lower bounds, one per parameter. Steps that reach
	// a bound are rejected. Nil leaves every parameter free; use -Inf to
	// leave a single one free.
	Lower []float64
}

const (
	defaultTol    = 1e-10
	initialLambda = 1e-3
	maxLambda     = 1e16
)

// ConvergenceError reports a fit that did not converge.
type ConvergenceError struct {
	Seed       []float64
	Iterations int
	Reason     string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("fit did not converge after %d iterations from seed %v: %s", e.Iterations, e.Seed, e.Reason)
}

func (e *ConvergenceError) Unwrap() error { return fiberr.ErrFitDidNotConverge }

// Curve fits model to the points (x, y) starting from seed.
func Curve(model Model, x, y, seed []float64, opts *Options) (Result, error) {
	n, k := len(x), len(seed)
	if n != len(y) {
		return Result{}, fmt.Errorf("fit: %d x values but %d y values: %w", n, len(y), fiberr.ErrInsufficientData)
	}
	if k == 0 || n < k {
		return Result{}, fmt.Errorf("fit: %d points for %d parameters: %w", n, k, fiberr.ErrInsufficientData)
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 200 * (k + 1)
	}
	if o.FTol <= 0 {
		o.FTol = defaultTol
	}
	if o.XTol <= 0 {
		o.XTol = defaultTol
	}
	if o.GTol <= 0 {
		o.GTol = defaultTol
	}
	if o.Lower != nil && len(o.Lower) != k {
		return Result{}, fmt.Errorf("fit: %d lower bounds for %d parameters: %w", len(o.Lower), k, fiberr.ErrInvalidConfiguration)
	}

	seedCopy := append([]float64(nil), seed...)
	fail := func(iter int, reason string) (Result, error) {
		return Result{}, &ConvergenceError{Seed: seedCopy, Iterations: iter, Reason: reason}
	}

	p := append([]float64(nil), seed...)
	eval := func(dst, params []float64) {
		for i, xi := range x {
			dst[i] = model(xi, params)
		}
	}
	residuals := func(params []float64) ([]float64, float64) {
		r := make([]float64, n)
		eval(r, params)
		for i := range r {
			r[i] = y[i] - r[i]
		}
		return r, floats.Dot(r, r)
	}

	if !o.feasible(p) {
		return fail(0, "seed violates the lower bounds")
	}
	r, cost := residuals(p)
	if !isFinite(cost) {
		return fail(0, "model is not finite at the seed")
	}

	jac := mat.NewDense(n, k, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	lambda := initialLambda
	accepted := 0
	yScale := 1 + floats.Norm(y, 2)
	converged := cost == 0

	for iter := 0; !converged; iter++ {
		if iter >= o.MaxIterations {
			return fail(accepted, "iteration limit reached")
		}

		fd.Jacobian(jac, eval, p, settings)
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(n, r))

		if infNorm(g.RawVector().Data) <= o.GTol {
			converged = true
			break
		}

		// damped normal equations: (JᵀJ + λ·diag(JᵀJ)) δ = Jᵀr
		damped := mat.DenseCopyOf(&jtj)
		for i := 0; i < k; i++ {
			d := jtj.At(i, i)
			damped.Set(i, i, d*(1+lambda)+lambda*1e-12)
		}
		var delta mat.VecDense
		if err := delta.SolveVec(damped, &g); err != nil && !isCondition(err) {
			lambda *= 10
			if lambda > maxLambda {
				return fail(accepted, "damped normal equations are singular")
			}
			continue
		}

		stepNorm := floats.Norm(delta.RawVector().Data, 2)
		paramNorm := floats.Norm(p, 2)
		smallStep := stepNorm <= o.XTol*(paramNorm+o.XTol)

		trial := make([]float64, k)
		floats.AddTo(trial, p, delta.RawVector().Data)
		var rTrial []float64
		costTrial := math.Inf(1)
		if o.feasible(trial) {
			rTrial, costTrial = residuals(trial)
		}
		if !isFinite(costTrial) || costTrial >= cost {
			if smallStep {
				// at the minimum to within XTol
				converged = true
				break
			}
			lambda *= 10
			if lambda > maxLambda {
				return fail(accepted, "no step reduces the residual")
			}
			continue
		}

		accepted++
		reduction := cost - costTrial
		p, r, cost = trial, rTrial, costTrial
		lambda = math.Max(lambda/10, 1e-12)

		if cost == 0 || reduction <= o.FTol*cost || smallStep {
			converged = true
		}
	}

	fd.Jacobian(jac, eval, p, settings)
	if j, flat := flatColumn(jac, yScale); flat {
		return fail(accepted, fmt.Sprintf("model does not depend on parameter %d at %v", j, p))
	}
	res := Result{
		Params:     p,
		Goodness:   RSquared(y, r),
		Iterations: accepted,
	}
	if n > k {
		res.Covariance = covariance(jac, cost/float64(n-k))
	}
	return res, nil
}

func (o *Options) feasible(p []float64) bool {
	for i, lo := range o.Lower {
		if !(p[i] > lo) {
			return false
		}
	}
	return true
}

// flatColumn reports the first parameter whose Jacobian column vanishes
// relative to the data scale. A fit that ends there sits on a plateau of the
// model, not at a minimum.
func flatColumn(jac *mat.Dense, scale float64) (int, bool) {
	_, k := jac.Dims()
	for j := 0; j < k; j++ {
		if mat.Norm(jac.ColView(j), 2) <= 1e-12*scale {
			return j, true
		}
	}
	return 0, false
}

// RSquared returns 1 - SSres/SStot for observations y and residuals r. A
// constant y gives 1 for a perfect fit and 0 otherwise.
func RSquared(y, r []float64) float64 {
	ssRes := floats.Dot(r, r)
	mean := stat.Mean(y, nil)
	var ssTot float64
	for _, v := range y {
		d := v - mean
		ssTot += d * d
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

func covariance(jac *mat.Dense, s2 float64) *mat.SymDense {
	_, k := jac.Dims()
	var jtj mat.Dense
	jtj.Mul(jac.T(), jac)
	var inv mat.Dense
	if err := inv.Inverse(&jtj); err != nil && !isCondition(err) {
		return nil
	}
	cov := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			cov.SetSym(i, j, s2*(inv.At(i, j)+inv.At(j, i))/2)
		}
	}
	return cov
}

// isCondition reports an ill-conditioned but computed solution. The step is
// still judged by whether it lowers the residual.
func isCondition(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}

func infNorm(v []float64) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
