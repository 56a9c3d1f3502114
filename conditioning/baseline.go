package conditioning

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/ramanlab/mathx"
)

// BaselineMethod names a baseline removal algorithm
type BaselineMethod string

const (
	// AsLS is Asymmetric Least Squares smoothing (Eilers & Boelens, 2005).
	// params = [lambda, asymmetry] or [lambda, asymmetry, iterations]
	AsLS BaselineMethod = "asls"

	// PolySub subtracts a polynomial fit through the local minima.
	// params = [degree]
	PolySub BaselineMethod = "polysub"

	// Bandpass subtracts a wide gaussian blur from a narrow one.
	// params = [sigma1, sigma2]
	Bandpass BaselineMethod = "bandpass"
)

// DefaultAsLSIterations is the number of reweighting passes made by AsLS.
// There is no convergence test; 10 passes is already close to stable.
const DefaultAsLSIterations = 20

// ParseBaselineMethod converts a configuration string to a BaselineMethod
func ParseBaselineMethod(s string) (BaselineMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asls", "asymmetric_least_squares":
		return AsLS, nil
	case "polysub", "polynomial_subtract":
		return PolySub, nil
	case "bandpass":
		return Bandpass, nil
	}
	return "", &UnsupportedMethodError{Kind: "baseline", Name: s}
}

// RemoveBaseline removes the slowly varying background of a spectrum
func RemoveBaseline(x []float64, params []float64, method BaselineMethod) ([]float64, error) {
	m, err := ParseBaselineMethod(string(method))
	if err != nil {
		return nil, err
	}
	if err := checkBaselineParams(m, params); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, ErrDegenerateInput
	}
	switch m {
	case AsLS:
		iters := DefaultAsLSIterations
		if len(params) == 3 {
			iters = int(params[2])
		}
		z, err := AsLSBaseline(x, params[0], params[1], iters)
		if err != nil {
			return nil, err
		}
		return Subtract(x, z)
	case PolySub:
		return polySubtract(x, int(params[0]))
	default:
		lo, hi := math.Min(params[0], params[1]), math.Max(params[0], params[1])
		return Subtract(gaussianFilter(x, lo), gaussianFilter(x, hi))
	}
}

func checkBaselineParams(m BaselineMethod, params []float64) error {
	switch m {
	case AsLS:
		if len(params) != 2 && len(params) != 3 {
			return &InvalidParameterError{Method: string(m), Reason: "expected [lambda, asymmetry] or [lambda, asymmetry, iterations]"}
		}
		if params[0] <= 0 {
			return &InvalidParameterError{Method: string(m), Reason: "lambda must be positive"}
		}
		if params[1] <= 0 || params[1] >= 1 {
			return &InvalidParameterError{Method: string(m), Reason: "asymmetry must be in (0, 1)"}
		}
		if len(params) == 3 && params[2] < 1 {
			return &InvalidParameterError{Method: string(m), Reason: "iterations must be >= 1"}
		}
	case PolySub:
		if len(params) != 1 || params[0] < 0 {
			return &InvalidParameterError{Method: string(m), Reason: "expected [degree] with degree >= 0"}
		}
	case Bandpass:
		if len(params) != 2 || params[0] <= 0 || params[1] <= 0 {
			return &InvalidParameterError{Method: string(m), Reason: "expected two positive sigmas"}
		}
	}
	return nil
}

// secondDifferenceGram returns the three upper diagonals of D*D^T, where D is
// the L x (L-2) second difference operator with stencil (1, -2, 1).
// diag[k][i] holds element (i, i+k).
func secondDifferenceGram(n int) [3][]float64 {
	var g [3][]float64
	for k := range g {
		g[k] = make([]float64, n)
	}
	stencil := [3]float64{1, -2, 1}
	for j := 0; j+2 < n; j++ {
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				g[b-a][j+a] += stencil[a] * stencil[b]
			}
		}
	}
	return g
}

// AsLSBaseline estimates the baseline z of x by iteratively reweighted
// penalized least squares.  Each pass solves
//
//	(W + lambda * D * D^T) z = W x
//
// then gives weight p to samples above z and 1-p to samples below.  Exactly
// iterations passes are made.
func AsLSBaseline(x []float64, lambda, p float64, iterations int) ([]float64, error) {
	n := len(x)
	if n < 3 {
		return nil, ErrDegenerateInput
	}
	gram := secondDifferenceGram(n)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	rhs := make([]float64, n)
	var (
		z    mat.VecDense
		chol mat.BandCholesky
	)
	for it := 0; it < iterations; it++ {
		a := mat.NewSymBandDense(n, 2, nil)
		for i := 0; i < n; i++ {
			a.SetSymBand(i, i, w[i]+lambda*gram[0][i])
			for k := 1; k <= 2 && i+k < n; k++ {
				a.SetSymBand(i, i+k, lambda*gram[k][i])
			}
			rhs[i] = w[i] * x[i]
		}
		if ok := chol.Factorize(a); !ok {
			if it > 0 {
				// every weight collapsed to zero, z already passes through x
				break
			}
			return nil, errors.New("conditioning: AsLS system is not positive definite")
		}
		if err := chol.SolveVecTo(&z, mat.NewVecDense(n, rhs)); err != nil {
			return nil, fmt.Errorf("conditioning: AsLS solve: %w", err)
		}
		for i := 0; i < n; i++ {
			zi := z.AtVec(i)
			switch {
			case x[i] > zi:
				w[i] = p
			case x[i] < zi:
				w[i] = 1 - p
			default:
				w[i] = 0
			}
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = z.AtVec(i)
	}
	return out, nil
}

// polySubtract fits a polynomial through the endpoints and the local minima
// of x and returns x minus that lower envelope.  The fit is made on -x so the
// minima are found as peaks, and the fitted curve is added back.
func polySubtract(x []float64, degree int) ([]float64, error) {
	n := len(x)
	neg := make([]float64, n)
	for i, v := range x {
		neg[i] = -v
	}
	idx := []int{0}
	for _, p := range FindPeaks(neg) {
		idx = append(idx, p)
	}
	if n > 1 {
		idx = append(idx, n-1)
	}

	px := make([]float64, len(idx))
	py := make([]float64, len(idx))
	for i, j := range idx {
		px[i] = float64(j)
		py[i] = neg[j]
	}
	deg := degree
	if deg > n-1 {
		deg = n - 1
	}
	if deg > len(idx)-1 {
		deg = len(idx) - 1
	}
	p, err := mathx.Polyfit(px, py, deg)
	if err != nil {
		return nil, fmt.Errorf("conditioning: polysub fit: %w", err)
	}
	out := make([]float64, n)
	for i, v := range x {
		out[i] = v + mathx.Polyval(p, float64(i))
	}
	return out, nil
}
