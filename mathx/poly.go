package mathx

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrTooFewPoints is generated when a fit is requested with fewer points
// than unknown coefficients
var ErrTooFewPoints = errors.New("mathx: too few points for the requested polynomial degree")

// Polyval evaluates the polynomial p at x.  p is ordered highest power first,
// so p = [a, b, c] is a*x^2 + b*x + c.
func Polyval(p []float64, x float64) float64 {
	var y float64
	for _, c := range p {
		y = y*x + c
	}
	return y
}

// PolyvalSlice evaluates p at every element of xs
func PolyvalSlice(p []float64, xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = Polyval(p, x)
	}
	return out
}

// Polyfit computes the least squares polynomial of degree deg through (x, y).
// The coefficients are returned highest power first.
//
// The Vandermonde columns are scaled to unit norm before the QR solve, which
// keeps the problem well conditioned for pixel indices in the thousands.
func Polyfit(x, y []float64, deg int) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("mathx: polyfit length mismatch, %d x values and %d y values", len(x), len(y))
	}
	if deg < 0 {
		return nil, fmt.Errorf("mathx: polyfit degree must be >= 0, got %d", deg)
	}
	n, cols := len(x), deg+1
	if n < cols {
		return nil, ErrTooFewPoints
	}

	a := mat.NewDense(n, cols, nil)
	for i, xi := range x {
		for j := 0; j < cols; j++ {
			a.Set(i, j, math.Pow(xi, float64(deg-j)))
		}
	}
	scale := make([]float64, cols)
	for j := 0; j < cols; j++ {
		scale[j] = mat.Norm(a.ColView(j), 2)
		if scale[j] == 0 {
			scale[j] = 1
		}
		for i := 0; i < n; i++ {
			a.Set(i, j, a.At(i, j)/scale[j])
		}
	}

	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return nil, fmt.Errorf("mathx: polyfit solve: %w", err)
	}
	p := make([]float64, cols)
	for j := range p {
		p[j] = sol.AtVec(j) / scale[j]
	}
	return p, nil
}
