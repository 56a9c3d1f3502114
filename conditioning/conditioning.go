/*Package conditioning contains the signal treatment applied to spectra read
from the CCD: saturation and low-signal detection, normalization, smoothing,
baseline removal and peak finding.

Every function is pure.  Inputs are never modified and outputs have the same
length as the input unless documented otherwise.  A typical chain for a Raman
sample is

	y, err := conditioning.Smooth(x, 7, conditioning.Median)
	y, err = conditioning.Smooth(y, 5, conditioning.Gaussian)
	y, err = conditioning.RemoveBaseline(y, []float64{1e5, 0.05}, conditioning.AsLS)

which is what SamplePipeline encodes.
*/
package conditioning

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// SaturationMax is the largest value a 16-bit CCD pixel can report
	SaturationMax = 1<<16 - 1

	// SaturationSlack is added to SaturationMax to form the saturation
	// threshold.  It is negative so that near-ceiling noise still counts.
	SaturationSlack = -10000
)

var (
	// ErrDegenerateInput is generated when an empty or all-zero array is
	// given to an operation that cannot work with it
	ErrDegenerateInput = errors.New("conditioning: degenerate input (empty or all zero)")

	// ErrLengthMismatch is generated when two arrays that must be the same length are not
	ErrLengthMismatch = errors.New("conditioning: arrays differ in length")
)

// UnsupportedMethodError is generated when an unknown smoothing, baseline or
// norm method is requested.  It is a configuration error.
type UnsupportedMethodError struct {
	// Kind is the family of the method, e.g. "smoothing"
	Kind string

	// Name is the method that was asked for
	Name string
}

// Error satisfies stdlib error interface
func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("conditioning: no such %s method %q", e.Kind, e.Name)
}

// InvalidParameterError is generated when a method is given parameters it
// cannot use, e.g. an even median window
type InvalidParameterError struct {
	Method string
	Reason string
}

// Error satisfies stdlib error interface
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("conditioning: invalid parameters for %s: %s", e.Method, e.Reason)
}

// DetectSaturation returns true if the signal reaches the saturation threshold
func DetectSaturation(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	return floats.Max(x) >= SaturationMax+SaturationSlack
}

// DetectLowSignal returns true if the signal peak is at or below a third of
// the sensor full scale.  An all-zero signal is not considered low, it
// carries no information at all.
func DetectLowSignal(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	if allZero(x) {
		return false
	}
	return floats.Max(x) <= SaturationMax/3.
}

// Norm selects the vector norm used by Normalize
type Norm int

const (
	// NormL1 normalizes the area under the spectrum
	NormL1 Norm = 1

	// NormL2 normalizes the energy of the spectrum
	NormL2 Norm = 2

	// NormInf normalizes the peak of the spectrum
	NormInf Norm = -1
)

func (n Norm) order() (float64, bool) {
	switch n {
	case NormL1:
		return 1, true
	case NormL2:
		return 2, true
	case NormInf:
		return math.Inf(1), true
	}
	return 0, false
}

// Normalize divides x by its norm of the given order
func Normalize(x []float64, n Norm) ([]float64, error) {
	ord, ok := n.order()
	if !ok {
		return nil, &UnsupportedMethodError{Kind: "norm", Name: fmt.Sprint(int(n))}
	}
	if len(x) == 0 || allZero(x) {
		return nil, ErrDegenerateInput
	}
	out := make([]float64, len(x))
	floats.ScaleTo(out, 1/floats.Norm(x, ord), x)
	return out, nil
}

// Subtract returns a - b
func Subtract(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, ErrLengthMismatch
	}
	out := make([]float64, len(a))
	floats.SubTo(out, a, b)
	return out, nil
}

func allZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
