package conditioning

import (
	"math"
	"sort"
)

type peakConfig struct {
	height   float64
	distance int
}

// PeakOption configures FindPeaks
type PeakOption func(*peakConfig)

// WithMinHeight discards peaks lower than h
func WithMinHeight(h float64) PeakOption {
	return func(c *peakConfig) { c.height = h }
}

// WithMinDistance enforces at least d samples between reported peaks,
// larger peaks win
func WithMinDistance(d int) PeakOption {
	return func(c *peakConfig) { c.distance = d }
}

// FindPeaks returns the indices of the local maxima of x in ascending order.
// A flat-topped peak is reported at the middle of its plateau.  The first and
// last samples are never peaks.
func FindPeaks(x []float64, opts ...PeakOption) []int {
	cfg := peakConfig{height: math.Inf(-1), distance: 1}
	for _, o := range opts {
		o(&cfg)
	}

	peaks := localMaxima(x)
	if !math.IsInf(cfg.height, -1) {
		kept := peaks[:0]
		for _, p := range peaks {
			if x[p] >= cfg.height {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}
	if cfg.distance > 1 && len(peaks) > 1 {
		peaks = selectByDistance(x, peaks, cfg.distance)
	}
	return peaks
}

func localMaxima(x []float64) []int {
	var out []int
	n := len(x)
	i := 1
	for i < n-1 {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < n-1 && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				out = append(out, (i+ahead-1)/2)
				i = ahead
				continue
			}
		}
		i++
	}
	return out
}

// selectByDistance walks the peaks from highest to lowest and removes any
// neighbour closer than distance
func selectByDistance(x []float64, peaks []int, distance int) []int {
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}
	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
