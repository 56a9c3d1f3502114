/*Package usblc drives USB line CCD modules through the vendor libusblcjtn
library.

The binding needs cgo and the library installed, and is only compiled with
the usblc build tag:

	go build -tags usblc ./...

Without the tag every call returns ErrNotCompiled.  On Linux the device needs
a udev rule granting access to vendor 19d1, product 000e.
*/
package usblc

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nasa-jpl/ramanlab/camera"
)

const (
	// Pixels is the number of pixels of the sensor
	Pixels = 3648

	// ModeOneShot is the software triggered acquisition mode
	ModeOneShot = 0

	// TimeoutDelay is the timeout of control transfers, in units of 100 ms
	TimeoutDelay = 10

	// pipeSlackMs is added to the integration time when waiting for a frame
	pipeSlackMs = 100
)

// ErrNotCompiled is generated when the package was built without the usblc tag
var ErrNotCompiled = errors.New("usblc: built without cgo support, rebuild with -tags usblc")

// Error is an error code from the library
type Error struct {
	Code int
	Msg  string
}

// Error satisfies stdlib error interface
func (e Error) Error() string {
	return fmt.Sprintf("usblc: error %d - %s", e.Code, e.Msg)
}

// Sensor is a line CCD module.  It satisfies camera.LineSensor.
type Sensor struct {
	mu      sync.Mutex
	open    bool
	inttime float64
}

// NewSensor returns a Sensor; no I/O happens until Initialize
func NewSensor() *Sensor {
	return &Sensor{inttime: 100}
}

// Initialize opens the device at index, selects one-shot mode, stops any
// running acquisition, sets the gain to minimum and the integration time to
// 100 us
func (s *Sensor) Initialize(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := openDevice(index, Pixels); err != nil {
		return err
	}
	if err := setIntTime(100); err != nil {
		return err
	}
	s.inttime = 100
	s.open = true
	return nil
}

// SetIntegrationTime sets the exposure, us.  The hardware resolution is one
// microsecond.
func (s *Sensor) SetIntegrationTime(us float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return camera.ErrNotOpen
	}
	if us < 1 || us > math.MaxUint32 {
		return fmt.Errorf("usblc: integration time %g us out of range", us)
	}
	if err := setIntTime(uint32(us)); err != nil {
		return err
	}
	s.inttime = us
	return nil
}

// GetIntegrationTime satisfies camera.IntegrationTimer
func (s *Sensor) GetIntegrationTime() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inttime, nil
}

// Pixels satisfies camera.PixelCounter
func (s *Sensor) Pixels() int {
	return Pixels
}

// CaptureFrame triggers an acquisition and waits for it to complete
func (s *Sensor) CaptureFrame() (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, camera.ErrNotOpen
	}
	if err := trigger(); err != nil {
		return nil, err
	}
	buf := make([]uint16, Pixels)
	wait := uint32(pipeSlackMs + s.inttime/1000)
	n, err := readFrame(buf, wait)
	if err != nil {
		return nil, err
	}
	if n != 2*Pixels {
		return nil, fmt.Errorf("usblc: wrong number of bytes read, expected %d got %d", 2*Pixels, n)
	}
	return camera.Frame(buf), nil
}

// Shutdown closes the device
func (s *Sensor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return closeDevice()
}
