// Package laser exposes control of laser sources over HTTP
package laser

import (
	"net/http"

	"github.com/nasa-jpl/ramanlab/generichttp"
)

// Source is the excitation laser of a spectrometer.  Powers are in Watts.
type Source interface {
	// Initialize opens the connection to the laser on port
	Initialize(port string) error

	// Start restarts the laser and sets its power to watts
	Start(watts float64) error

	// SetPower sets the output power setpoint
	SetPower(watts float64) error

	// GetPower retrieves the measured output power
	GetPower() (float64, error)

	// Stop brings the output power to zero without turning the laser off
	Stop() error

	// Shutdown turns the laser off and releases the connection
	Shutdown() error

	// GetFault returns the fault code of the laser, zero when healthy
	GetFault() (int, error)

	// GetInterlockOpen returns true if the remote interlock is open
	GetInterlockOpen() (bool, error)
}

// FaultDescriber can convert its fault codes to errors
type FaultDescriber interface {
	FaultError(code int) error
}

// EmissionReader can report if the laser is emitting
type EmissionReader interface {
	// GetEmission queries if the laser is currently outputting
	GetEmission() (bool, error)
}

// GetEmission queries the output state of the laser
func GetEmission(c EmissionReader) http.HandlerFunc {
	return generichttp.GetBool(c.GetEmission)
}

// GetPower queries the output power of the laser
func GetPower(s Source) http.HandlerFunc {
	return generichttp.GetFloat(s.GetPower)
}

// GetFault queries the fault code of the laser
func GetFault(s Source) http.HandlerFunc {
	return generichttp.GetInt(s.GetFault)
}

// GetInterlock queries if the interlock is open
func GetInterlock(s Source) http.HandlerFunc {
	return generichttp.GetBool(s.GetInterlockOpen)
}

// HTTPLaserController wraps a Source in an HTTP route table.  It is read-only,
// the laser is driven by the acquisition session.
type HTTPLaserController struct {
	// Src is the underlying laser
	Src Source

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPLaserController returns a new HTTP wrapper around an existing laser
func NewHTTPLaserController(src Source) HTTPLaserController {
	h := HTTPLaserController{Src: src}
	rt := generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/power"}:     GetPower(src),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/fault"}:     GetFault(src),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/interlock"}: GetInterlock(src),
	}
	if er, ok := src.(EmissionReader); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/emission"}] = GetEmission(er)
	}
	h.RouteTable = rt
	return h
}

// RT safisfies the generichttp.HTTPer interface
func (h HTTPLaserController) RT() generichttp.RouteTable {
	return h.RouteTable
}
