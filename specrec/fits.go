/*Package specrec writes spectra to FITS files and records sequences of them
to disk with incrementing filenames in yyyy-mm-dd subfolders.
*/
package specrec

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// Spectrum is everything written for one measurement.  Rows that are nil
// are written as zeros so every file has the same layout.
type Spectrum struct {
	// Time is when the spectrum was taken
	Time time.Time

	// Kind is "sample" or "calibration"
	Kind string

	// Wavenumbers is the Raman shift of each pixel, 1/cm
	Wavenumbers []float64

	// Intensity is the conditioned spectrum
	Intensity []float64

	// Averaged is the dark subtracted mean of the captures, before conditioning
	Averaged []float64

	// Raw is the last frame read from the sensor
	Raw []uint16

	// IntegrationTime in us
	IntegrationTime float64

	// Power of the laser in W
	Power float64

	// Coeffs is the pixel to wavenumber polynomial, highest power first
	Coeffs []float64
}

// Rows is the number of rows in the image written by WriteFITS
const Rows = 4

// row order in the image
const (
	rowWavenumber = iota
	rowIntensity
	rowAveraged
	rowRaw
)

// ErrEmpty is generated when a spectrum has no pixels
var ErrEmpty = errors.New("specrec: spectrum has no data")

// Len is the number of pixels of the spectrum
func (s Spectrum) Len() int {
	n := len(s.Intensity)
	for _, m := range []int{len(s.Wavenumbers), len(s.Averaged), len(s.Raw)} {
		if m > n {
			n = m
		}
	}
	return n
}

// Cards returns the FITS header of the spectrum
func (s Spectrum) Cards() []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "DATE-OBS", Value: s.Time.UTC().Format("2006-01-02T15:04:05.000"), Comment: "UTC time of measurement"},
		{Name: "KIND", Value: s.Kind},
		{Name: "EXPTIME", Value: s.IntegrationTime * 1e-6, Comment: "integration time, s"},
		{Name: "LASPOWER", Value: s.Power, Comment: "laser power, W"},
		{Name: "ROW0", Value: "wavenumber", Comment: "1/cm"},
		{Name: "ROW1", Value: "conditioned"},
		{Name: "ROW2", Value: "averaged"},
		{Name: "ROW3", Value: "raw"},
		{Name: "CALDEG", Value: len(s.Coeffs) - 1, Comment: "degree of the wavenumber polynomial"},
	}
	for i, c := range s.Coeffs {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("CALCOEF%d", i), Value: c})
	}
	return cards
}

// WriteFITS streams the spectrum to w as a Rows x Len image of float64
func WriteFITS(w io.Writer, s Spectrum) error {
	n := s.Len()
	if n == 0 {
		return ErrEmpty
	}
	data := make([]float64, Rows*n)
	copy(data[rowWavenumber*n:], s.Wavenumbers)
	copy(data[rowIntensity*n:], s.Intensity)
	copy(data[rowAveraged*n:], s.Averaged)
	raw := data[rowRaw*n : (rowRaw+1)*n]
	for i, v := range s.Raw {
		raw[i] = float64(v)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{n, Rows})
	defer im.Close()
	err = im.Header().Append(s.Cards()...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
