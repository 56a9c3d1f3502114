// Package camera provides a generic HTTP interface to a line sensor
package camera

import (
	"net/http"

	"github.com/nasa-jpl/ramanlab/camera"
	"github.com/nasa-jpl/ramanlab/generichttp"
)

// GetIntegrationTime returns the exposure time in microseconds as {'f64': value}
func GetIntegrationTime(t camera.IntegrationTimer) http.HandlerFunc {
	return generichttp.GetFloat(t.GetIntegrationTime)
}

// GetPixels returns the frame length as {'int': value}
func GetPixels(p camera.PixelCounter) http.HandlerFunc {
	return generichttp.GetInt(func() (int, error) { return p.Pixels(), nil })
}

// HTTPSensor wraps a line sensor in an HTTP route table.  It does not
// capture; frames are taken by the acquisition session only.
type HTTPSensor struct {
	// Sensor is the underlying line sensor
	Sensor camera.LineSensor

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPSensor returns a new HTTP wrapper around a line sensor.  Routes are
// added for the optional interfaces the sensor satisfies.
func NewHTTPSensor(s camera.LineSensor) HTTPSensor {
	h := HTTPSensor{Sensor: s, RouteTable: generichttp.RouteTable{}}
	if t, ok := s.(camera.IntegrationTimer); ok {
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/integration-time"}] = GetIntegrationTime(t)
	}
	if p, ok := s.(camera.PixelCounter); ok {
		h.RouteTable[generichttp.MethodPath{Method: http.MethodGet, Path: "/pixels"}] = GetPixels(p)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPSensor) RT() generichttp.RouteTable {
	return h.RouteTable
}
