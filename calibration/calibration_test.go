package calibration_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/conditioning"
)

const pixels = 3648

// truth is the instrument response the synthetic spectra are made with
var truth = calibration.Parameters{Coeffs: []float64{-1e-5, 0.55, 50}}

// guess is a rough a priori estimate of truth
var guess = calibration.Parameters{Coeffs: []float64{-1e-5, 0.56, 40}}

type line struct {
	px     int
	height float64
	sigma  float64
}

func synth(base float64, lines ...line) []float64 {
	out := make([]float64, pixels)
	for i := range out {
		out[i] = base
		for _, l := range lines {
			d := (float64(i) - float64(l.px)) / l.sigma
			out[i] += l.height * math.Exp(-0.5*d*d)
		}
	}
	return out
}

func TestFindCorrectionExactPixels(t *testing.T) {
	// pixels where truth is closest to the lines of DefaultModel
	spectrum := synth(1000,
		line{765, 20000, 4},
		line{144, 15000, 4},
		line{3541, 10000, 4})
	model := calibration.DefaultModel()

	p, err := calibration.FindCorrection(spectrum, model, guess, calibration.DefaultThreshold, calibration.DefaultDegree)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Degree())
	for i, px := range []float64{765, 144, 3541} {
		assert.InDelta(t, model[i].Wavenumber, p.Wavenumber(px), 0.5, "line %d", i)
	}
}

func TestFindCorrectionAfterConditioning(t *testing.T) {
	pix := []int{765, 144, 3541}
	model := make(calibration.PeakModel, len(pix))
	for i, px := range pix {
		model[i] = calibration.Line{Wavenumber: truth.Wavenumber(float64(px)), Height: 1}
	}
	raw := synth(1000,
		line{pix[0], 20000, 5},
		line{pix[1], 15000, 5},
		line{pix[2], 10000, 5})

	spectrum, err := conditioning.CalibrationPipeline().Apply(raw)
	require.NoError(t, err)

	p, err := calibration.FindCorrection(spectrum, model, guess, calibration.DefaultThreshold, calibration.DefaultDegree)
	require.NoError(t, err)

	// the median filter flattens the top of each line, the apex may move by
	// a couple of pixels
	want := truth.Axis(pixels)
	got := p.Axis(pixels)
	opt := cmpopts.EquateApprox(0, 5)
	if diff := cmp.Diff(want, got, opt); diff != "" {
		t.Errorf("axis mismatch (-want +got):\n%s", diff)
	}

	// an apex off by two pixels moves each coefficient by less than these
	require.Equal(t, truth.Degree(), p.Degree())
	tol := []float64{2e-6, 0.01, 3}
	for i, c := range truth.Coeffs {
		assert.InDelta(t, c, p.Coeffs[i], tol[i], "coefficient %d", i)
	}
}

func TestFindCorrectionDegreeCapped(t *testing.T) {
	spectrum := synth(1000, line{765, 20000, 4}, line{144, 15000, 4})
	p, err := calibration.FindCorrection(spectrum, calibration.DefaultModel(), guess, calibration.DefaultThreshold, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Degree())
	assert.InDelta(t, 465, p.Wavenumber(765), 1e-6)
	assert.InDelta(t, 129, p.Wavenumber(144), 1e-6)
}

func TestFindCorrectionInsufficientPeaks(t *testing.T) {
	cases := []struct {
		name     string
		spectrum []float64
		model    calibration.PeakModel
	}{
		{"one peak", synth(1000, line{765, 20000, 4}), calibration.DefaultModel()},
		{"one line", synth(1000, line{765, 20000, 4}, line{144, 15000, 4}), calibration.DefaultModel()[:1]},
		{"flat", synth(1000), calibration.DefaultModel()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, err := calibration.FindCorrection(c.spectrum, c.model, guess, calibration.DefaultThreshold, 2)
			var ipe *calibration.InsufficientPeaksError
			require.True(t, errors.As(err, &ipe), "got %v", err)
			assert.Equal(t, calibration.MinAssignments, ipe.Required)
			assert.Less(t, ipe.Found, calibration.MinAssignments)
			assert.True(t, p.IsZero())
		})
	}
}

func TestFindCorrectionIgnoresWeakNeighbour(t *testing.T) {
	// a weak line 65 px away from the 465 line must not steal its match
	spectrum := synth(1000,
		line{765, 20000, 4},
		line{144, 15000, 4},
		line{3541, 10000, 4},
		line{700, 6000, 4})
	p, err := calibration.FindCorrection(spectrum, calibration.DefaultModel(), guess, calibration.DefaultThreshold, 2)
	require.NoError(t, err)
	assert.InDelta(t, 465, p.Wavenumber(765), 0.5)
}

func TestParameters(t *testing.T) {
	p := calibration.Parameters{Coeffs: []float64{2, 1}}
	assert.Equal(t, []float64{1, 3, 5}, p.Axis(3))
	assert.Equal(t, 1, p.Degree())

	c := p.Clone()
	c.Coeffs[0] = 9
	assert.Equal(t, 2., p.Coeffs[0])

	assert.Equal(t, -1, calibration.Parameters{}.Degree())
	assert.Equal(t, []float64{465, 129, 1872}, calibration.DefaultModel().Wavenumbers())
}
