package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/conditioning"
	"github.com/nasa-jpl/ramanlab/generichttp"
	"github.com/nasa-jpl/ramanlab/server"
	"github.com/nasa-jpl/ramanlab/specrec"
)

// StatusCode maps an error from a session operation to an HTTP status.
// Hardware faults and anything unrecognized are 500.
func StatusCode(err error) int {
	var (
		stateErr *StateError
		unsup    *conditioning.UnsupportedMethodError
		peaks    *calibration.InsufficientPeaksError
	)
	switch {
	case errors.Is(err, ErrBusy), errors.As(err, &stateErr):
		return http.StatusConflict
	case errors.Is(err, ErrSessionClosed):
		return http.StatusGone
	case errors.As(err, &unsup), errors.As(err, &peaks), errors.Is(err, conditioning.ErrDegenerateInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusCode(err))
}

// CalibrationSummary is the HTTP view of a calibration, without the arrays
type CalibrationSummary struct {
	Coeffs             []float64 `json:"coeffs"`
	IntegrationTime    float64   `json:"integrationTime"`
	Power              float64   `json:"power"`
	ExposureConverged  bool      `json:"exposureConverged"`
	ExposureIterations int       `json:"exposureIterations"`
}

// Spectrum is the HTTP view of a sample
type Spectrum struct {
	Wavenumbers []float64 `json:"wavenumbers"`
	Intensity   []float64 `json:"intensity"`
}

// ToSpectrum converts a sample into the form written to FITS files
func (smp *Sample) ToSpectrum() specrec.Spectrum {
	return specrec.Spectrum{
		Time:            smp.Time,
		Kind:            "sample",
		Wavenumbers:     smp.Wavenumbers,
		Intensity:       smp.Conditioned,
		Averaged:        smp.Averaged,
		Raw:             smp.Raw,
		IntegrationTime: smp.IntegrationTime,
		Power:           smp.Power,
		Coeffs:          smp.Calibration.Coeffs,
	}
}

// ToSpectrum converts a calibration into the form written to FITS files
func (c *Calibration) ToSpectrum() specrec.Spectrum {
	return specrec.Spectrum{
		Time:            c.Time,
		Kind:            "calibration",
		Wavenumbers:     c.Wavenumbers,
		Intensity:       c.Spectrum,
		Averaged:        c.Averaged,
		Raw:             c.Raw,
		IntegrationTime: c.IntegrationTime,
		Power:           c.Power,
		Coeffs:          c.Parameters.Coeffs,
	}
}

// HTTPWrapper exposes a session over HTTP
type HTTPWrapper struct {
	*Session

	generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(s *Session) HTTPWrapper {
	w := HTTPWrapper{Session: s}
	rt := generichttp.RouteTable{
		{Method: http.MethodPost, Path: "/initialize"}:      w.initialize,
		{Method: http.MethodPost, Path: "/calibrate"}:       w.calibrate,
		{Method: http.MethodPost, Path: "/acquire"}:         w.acquire,
		{Method: http.MethodPost, Path: "/shutdown"}:        w.shutdown,
		{Method: http.MethodGet, Path: "/state"}:            generichttp.GetString(w.getState),
		{Method: http.MethodGet, Path: "/integration-time"}: generichttp.GetFloat(w.getIntegrationTime),
		{Method: http.MethodGet, Path: "/power"}:            generichttp.GetFloat(w.getPower),
		{Method: http.MethodGet, Path: "/calibration"}:      w.getCalibration,
		{Method: http.MethodGet, Path: "/dark-noise"}:       w.getDarkNoise,
		{Method: http.MethodGet, Path: "/spectrum"}:         w.getSpectrum,
		{Method: http.MethodGet, Path: "/wavenumbers"}:      w.getWavenumbers,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.Initialize(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) calibrate(w http.ResponseWriter, r *http.Request) {
	cal, err := h.Calibrate(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	server.EncodeJSON(w, CalibrationSummary{
		Coeffs:             cal.Parameters.Coeffs,
		IntegrationTime:    cal.IntegrationTime,
		Power:              cal.Power,
		ExposureConverged:  cal.ExposureConverged,
		ExposureIterations: cal.ExposureIterations,
	})
}

func (h HTTPWrapper) acquire(w http.ResponseWriter, r *http.Request) {
	smp, err := h.AcquireSample(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	server.EncodeJSON(w, smp)
}

func (h HTTPWrapper) shutdown(w http.ResponseWriter, r *http.Request) {
	if err := h.Shutdown(r.Context()); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) getState() (string, error) {
	return h.State().String(), nil
}

func (h HTTPWrapper) getIntegrationTime() (float64, error) {
	return h.IntegrationTime(), nil
}

func (h HTTPWrapper) getPower() (float64, error) {
	return h.Power(), nil
}

func (h HTTPWrapper) getCalibration(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Calibration()
	if !ok {
		http.Error(w, "not calibrated", http.StatusNotFound)
		return
	}
	server.EncodeJSON(w, p)
}

func (h HTTPWrapper) getDarkNoise(w http.ResponseWriter, r *http.Request) {
	dark := h.DarkNoise()
	if dark == nil {
		http.Error(w, "no dark noise captured", http.StatusNotFound)
		return
	}
	server.EncodeJSON(w, dark)
}

// getSpectrum sends the last sample as JSON, or as FITS with ?fmt=fits
func (h HTTPWrapper) getSpectrum(w http.ResponseWriter, r *http.Request) {
	smp := h.LastSample()
	if smp == nil {
		http.Error(w, "no sample acquired", http.StatusNotFound)
		return
	}
	switch r.URL.Query().Get("fmt") {
	case "", "json":
		server.EncodeJSON(w, Spectrum{Wavenumbers: smp.Wavenumbers, Intensity: smp.Conditioned})
	case "fits":
		w.Header().Set("Content-Type", "image/fits")
		if err := specrec.WriteFITS(w, smp.ToSpectrum()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	default:
		http.Error(w, "format must be json or fits", http.StatusBadRequest)
	}
}

func (h HTTPWrapper) getWavenumbers(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Calibration()
	if !ok {
		http.Error(w, "not calibrated", http.StatusNotFound)
		return
	}
	server.EncodeJSON(w, p.Axis(len(h.DarkNoise())))
}
