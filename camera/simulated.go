package camera

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultPixels is the length of the Toshiba TCD1304 class arrays used in
// small spectrometers
const DefaultPixels = 3648

// ErrNotOpen is generated when a sensor is used before Initialize or after Shutdown
var ErrNotOpen = errors.New("camera: sensor is not open")

// PowerReader reports the power of the light illuminating the sample, W
type PowerReader interface {
	GetPower() (float64, error)
}

// SimLine is a Raman line seen by a Simulated sensor
type SimLine struct {
	// Pixel is the center of the line
	Pixel float64

	// Sigma is the standard deviation of the line, pixels
	Sigma float64

	// Rate is the apex count rate per microsecond per Watt
	Rate float64
}

// Simulated is a synthetic line sensor.  Every frame is
//
//	dark + t * P * (background + lines) + read noise
//
// clipped to 16 bits, with t the integration time and P the power read from
// Light.  The noise is drawn from a seeded generator and is reproducible.
type Simulated struct {
	// NPixels is the frame length
	NPixels int

	// Dark is the offset of the sensor, counts
	Dark float64

	// Background is a flat fluorescence rate per microsecond per Watt
	Background float64

	// Lines are the Raman lines of the sample
	Lines []SimLine

	// ReadNoise is the standard deviation of the noise, counts
	ReadNoise float64

	// Light is the excitation laser; no light reaches the sensor when nil
	Light PowerReader

	// Seed seeds the noise generator on Initialize
	Seed uint64

	mu      sync.Mutex
	open    bool
	inttime float64
	noise   distuv.Normal
}

// NewSimulated returns a simulated sensor lit by light with the given lines
// and a dark level, read noise and background typical of an uncooled CCD
func NewSimulated(light PowerReader, lines ...SimLine) *Simulated {
	return &Simulated{
		NPixels:    DefaultPixels,
		Dark:       600,
		Background: 2,
		Lines:      lines,
		ReadNoise:  8,
		Light:      light,
		Seed:       1,
	}
}

// Initialize satisfies LineSensor
func (s *Simulated) Initialize(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NPixels <= 0 {
		s.NPixels = DefaultPixels
	}
	s.noise = distuv.Normal{Mu: 0, Sigma: s.ReadNoise, Src: rand.NewPCG(s.Seed, uint64(index))}
	s.inttime = 100
	s.open = true
	return nil
}

// SetIntegrationTime satisfies LineSensor
func (s *Simulated) SetIntegrationTime(us float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	if us <= 0 {
		return errors.New("camera: integration time must be positive")
	}
	s.inttime = us
	return nil
}

// GetIntegrationTime satisfies IntegrationTimer
func (s *Simulated) GetIntegrationTime() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, ErrNotOpen
	}
	return s.inttime, nil
}

// Pixels satisfies PixelCounter
func (s *Simulated) Pixels() int {
	return s.NPixels
}

// CaptureFrame satisfies LineSensor
func (s *Simulated) CaptureFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	var p float64
	if s.Light != nil {
		var err error
		p, err = s.Light.GetPower()
		if err != nil {
			return nil, err
		}
	}
	exposure := s.inttime * p
	f := make(Frame, s.NPixels)
	for i := range f {
		signal := s.Background
		for _, l := range s.Lines {
			d := (float64(i) - l.Pixel) / l.Sigma
			signal += l.Rate * math.Exp(-0.5*d*d)
		}
		v := s.Dark + exposure*signal
		if s.ReadNoise > 0 {
			v += s.noise.Rand()
		}
		v = math.Round(v)
		switch {
		case v < 0:
			v = 0
		case v > math.MaxUint16:
			v = math.MaxUint16
		}
		f[i] = uint16(v)
	}
	return f, nil
}

// Shutdown satisfies LineSensor
func (s *Simulated) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}
