/*Package camera describes a standard set of interfaces for control of line
sensors, the linear CCD arrays found in spectrometers.

LineSensor contains the basics.  Simulated is a synthetic sensor useful for
tests and for running without hardware.
*/
package camera

// Frame is one readout of a line sensor, one value per pixel
type Frame []uint16

// Float64 returns a copy of the frame as float64
func (f Frame) Float64() []float64 {
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = float64(v)
	}
	return out
}

// Max returns the largest value in the frame
func (f Frame) Max() uint16 {
	var m uint16
	for _, v := range f {
		if v > m {
			m = v
		}
	}
	return m
}

// LineSensor describes a minimal line sensor interface
type LineSensor interface {
	// Initialize opens the sensor with the given index.  This may have
	// side effects such as loading a driver library and configuring the
	// acquisition mode and gain.
	Initialize(index int) error

	// SetIntegrationTime sets the exposure time in microseconds
	SetIntegrationTime(us float64) error

	// CaptureFrame triggers one acquisition and returns it
	CaptureFrame() (Frame, error)

	// Shutdown releases the sensor
	Shutdown() error
}

// IntegrationTimer can report its integration time
type IntegrationTimer interface {
	// GetIntegrationTime returns the exposure time in microseconds
	GetIntegrationTime() (float64, error)
}

// PixelCounter can report the length of its frames
type PixelCounter interface {
	// Pixels returns the number of pixels in a frame
	Pixels() int
}
