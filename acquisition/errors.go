package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrInterlockOpen is generated when the laser interlock is open at start
	ErrInterlockOpen = errors.New("acquisition: laser interlock is open")

	// ErrNoDarkNoise is generated when dark noise is subtracted before it was captured
	ErrNoDarkNoise = errors.New("acquisition: no dark noise captured")
)

// HardwareFault wraps an error raised by the sensor or the laser.  It is not
// recoverable within a session.
type HardwareFault struct {
	// Op is what was being done, e.g. "capture"
	Op string

	Err error
}

// Error satisfies stdlib error interface
func (e *HardwareFault) Error() string {
	return fmt.Sprintf("acquisition: hardware fault during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *HardwareFault) Unwrap() error {
	return e.Err
}

func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareFault{Op: op, Err: err}
}

// LaserFault is a non-zero laser fault code from a laser that does not
// describe its codes
type LaserFault struct {
	Code int
}

// Error satisfies stdlib error interface
func (e LaserFault) Error() string {
	return fmt.Sprintf("laser fault %d", e.Code)
}
