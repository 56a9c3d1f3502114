package conditioning

import (
	"math"
	"sort"
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/conv"
)

// SmoothMethod names a smoothing filter
type SmoothMethod string

const (
	// Median is a median filter with zero padded edges
	Median SmoothMethod = "median"

	// Gaussian is a gaussian filter; the window is the standard deviation in pixels
	Gaussian SmoothMethod = "gaussian"

	// MovingAverage is a uniform (boxcar) filter
	MovingAverage SmoothMethod = "avg"
)

// gaussianTruncate is the number of standard deviations at which the
// gaussian kernel is cut
const gaussianTruncate = 4.0

// ParseSmoothMethod converts a configuration string to a SmoothMethod
func ParseSmoothMethod(s string) (SmoothMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "median":
		return Median, nil
	case "gaussian", "gauss":
		return Gaussian, nil
	case "avg", "moving_average", "moving-average", "uniform":
		return MovingAverage, nil
	}
	return "", &UnsupportedMethodError{Kind: "smoothing", Name: s}
}

// Smooth filters x to remove noise.  window is the kernel size for Median and
// MovingAverage (odd for Median) and the standard deviation for Gaussian.
func Smooth(x []float64, window int, method SmoothMethod) ([]float64, error) {
	m, err := ParseSmoothMethod(string(method))
	if err != nil {
		return nil, err
	}
	if err := checkWindow(m, window); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, ErrDegenerateInput
	}
	switch m {
	case Median:
		return medianFilter(x, window), nil
	case Gaussian:
		return gaussianFilter(x, float64(window)), nil
	default:
		return uniformFilter(x, window), nil
	}
}

func checkWindow(m SmoothMethod, window int) error {
	if window < 1 {
		return &InvalidParameterError{Method: string(m), Reason: "window must be a positive integer"}
	}
	if m == Median && window%2 == 0 {
		return &InvalidParameterError{Method: string(m), Reason: "median window must be odd"}
	}
	return nil
}

// medianFilter takes the median of size samples centered on each sample;
// samples outside x are zero
func medianFilter(x []float64, size int) []float64 {
	half := size / 2
	out := make([]float64, len(x))
	buf := make([]float64, size)
	for i := range x {
		for k := 0; k < size; k++ {
			j := i - half + k
			if j < 0 || j >= len(x) {
				buf[k] = 0
			} else {
				buf[k] = x[j]
			}
		}
		sort.Float64s(buf)
		out[i] = buf[half]
	}
	return out
}

// reflect maps an out of range index back into [0, n) by mirroring about
// the half-sample edges, (d c b a | a b c d | d c b a)
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(gaussianTruncate*sigma + 0.5)
	k := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		k[i+radius] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianFilter convolves x with a normalized gaussian truncated at
// gaussianTruncate sigmas, edges reflected
func gaussianFilter(x []float64, sigma float64) []float64 {
	if sigma <= 0 {
		return append([]float64(nil), x...)
	}
	k := gaussianKernel(sigma)
	return filterReflect(x, k, len(k)/2)
}

// uniformFilter is the mean of size samples around each sample, edges reflected
func uniformFilter(x []float64, size int) []float64 {
	k := make([]float64, size)
	for i := range k {
		k[i] = 1 / float64(size)
	}
	return filterReflect(x, k, size/2)
}

// filterReflect applies kernel to x, the kernel's center sample sitting at
// index origin.  x is extended by reflection so the output keeps its length.
// The kernels used here are symmetric or constant, so convolution and
// correlation agree.
func filterReflect(x, kernel []float64, origin int) []float64 {
	n, m := len(x), len(kernel)
	padded := make([]float64, n+m-1)
	for t := range padded {
		padded[t] = x[reflect(t-origin, n)]
	}
	full := make([]float64, len(padded)+m-1)
	conv.DirectTo(full, padded, kernel)
	// the valid part, where the kernel lies entirely inside padded
	out := make([]float64, n)
	copy(out, full[m-1:m-1+n])
	return out
}
