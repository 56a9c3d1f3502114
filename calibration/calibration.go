/*Package calibration maps CCD pixel indices to Raman shift (wavenumbers, 1/cm).

The map is a polynomial fitted by FindCorrection from the peaks of a
reference substance whose lines are known.  Detected peaks are matched to the
lines of a PeakModel with help from a rough a priori polynomial, then the
matched pixels are fitted to the known wavenumbers.
*/
package calibration

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nasa-jpl/ramanlab/conditioning"
	"github.com/nasa-jpl/ramanlab/mathx"
)

const (
	// MinPeakDistance is the minimum spacing in pixels of two detected peaks
	MinPeakDistance = 20

	// MinAssignments is the fewest matched peaks a fit is made from
	MinAssignments = 2

	// DefaultThreshold is the detection threshold in standard deviations
	// above the mean of the spectrum
	DefaultThreshold = 0.5

	// DefaultDegree is the degree of the fitted correction
	DefaultDegree = 2
)

// Line is one known peak of a reference substance
type Line struct {
	// Wavenumber is the Raman shift of the line, 1/cm
	Wavenumber float64 `koanf:"Wavenumber" yaml:"Wavenumber"`

	// Height is the relative intensity of the line.  It is informational,
	// matching uses the order of the model instead.
	Height float64 `koanf:"Height" yaml:"Height"`
}

// PeakModel is the ordered list of lines of a reference substance.  Lines
// are matched in order, so the most reliable ones come first.
type PeakModel []Line

// Wavenumbers returns the wavenumber of each line
func (m PeakModel) Wavenumbers() []float64 {
	out := make([]float64, len(m))
	for i, l := range m {
		out[i] = l.Wavenumber
	}
	return out
}

// DefaultModel is the calibration substance of the reference instrument
func DefaultModel() PeakModel {
	return PeakModel{
		{Wavenumber: 465, Height: 1},
		{Wavenumber: 129, Height: 0.5},
		{Wavenumber: 1872, Height: 0.25},
	}
}

// Parameters is a pixel to wavenumber polynomial, highest power first
type Parameters struct {
	Coeffs []float64 `koanf:"Coeffs" yaml:"Coeffs" json:"coeffs"`
}

// DefaultGuess is the a priori correction of the reference instrument
func DefaultGuess() Parameters {
	return Parameters{Coeffs: []float64{-1e-4, 0.6, 60}}
}

// Wavenumber converts a (fractional) pixel index
func (p Parameters) Wavenumber(px float64) float64 {
	return mathx.Polyval(p.Coeffs, px)
}

// Axis returns the wavenumber of each of n pixels
func (p Parameters) Axis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = mathx.Polyval(p.Coeffs, float64(i))
	}
	return out
}

// Degree is the degree of the polynomial, -1 if it is empty
func (p Parameters) Degree() int {
	return len(p.Coeffs) - 1
}

// IsZero is true if no coefficients are held
func (p Parameters) IsZero() bool {
	return len(p.Coeffs) == 0
}

// Clone returns a deep copy
func (p Parameters) Clone() Parameters {
	return Parameters{Coeffs: append([]float64(nil), p.Coeffs...)}
}

// InsufficientPeaksError is generated when too few peaks could be matched to
// the model to fit a correction
type InsufficientPeaksError struct {
	Found    int
	Required int
}

// Error satisfies stdlib error interface
func (e *InsufficientPeaksError) Error() string {
	return fmt.Sprintf("calibration: matched %d peaks, at least %d are required", e.Found, e.Required)
}

// FindCorrection fits the pixel to wavenumber polynomial of spectrum.
//
// Peaks higher than mean + threshold*std are detected and ranked by height.
// For each of the first M lines of model, M being the lesser of the number of
// peaks and lines, the unassigned peak minimizing
//
//	|guess(px) - line| + rank^2
//
// is assigned to the line.  The assigned pixels are then fitted to the line
// wavenumbers with a polynomial of degree min(degree, M-1).
func FindCorrection(spectrum []float64, model PeakModel, guess Parameters, threshold float64, degree int) (Parameters, error) {
	if len(spectrum) == 0 {
		return Parameters{}, conditioning.ErrDegenerateInput
	}
	if degree < 0 {
		return Parameters{}, fmt.Errorf("calibration: negative degree %d", degree)
	}
	mean, std := stat.PopMeanStdDev(spectrum, nil)
	peaks := conditioning.FindPeaks(spectrum,
		conditioning.WithMinHeight(mean+threshold*std),
		conditioning.WithMinDistance(MinPeakDistance))

	sort.SliceStable(peaks, func(i, j int) bool { return spectrum[peaks[i]] > spectrum[peaks[j]] })

	m := len(peaks)
	if len(model) < m {
		m = len(model)
	}
	if m < MinAssignments {
		return Parameters{}, &InsufficientPeaksError{Found: m, Required: MinAssignments}
	}

	estimate := make([]float64, len(peaks))
	for i, px := range peaks {
		estimate[i] = guess.Wavenumber(float64(px))
	}
	assigned := make([]bool, len(peaks))
	px := make([]float64, m)
	wn := make([]float64, m)
	for k := 0; k < m; k++ {
		best, bestCost := -1, 0.
		for i, est := range estimate {
			if assigned[i] {
				continue
			}
			d := est - model[k].Wavenumber
			if d < 0 {
				d = -d
			}
			cost := d + float64(i*i)
			if best < 0 || cost < bestCost {
				best, bestCost = i, cost
			}
		}
		assigned[best] = true
		px[k] = float64(peaks[best])
		wn[k] = model[k].Wavenumber
	}

	deg := degree
	if deg > m-1 {
		deg = m - 1
	}
	coeffs, err := mathx.Polyfit(px, wn, deg)
	if err != nil {
		return Parameters{}, fmt.Errorf("calibration: fitting correction: %w", err)
	}
	return Parameters{Coeffs: coeffs}, nil
}
