package store

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/ramanlab/generichttp"
	"github.com/nasa-jpl/ramanlab/server"
)

// DefaultListLimit is the number of samples listed when no limit is given
const DefaultListLimit = 100

// HTTPWrapper serves the history in a store.  Like the recorder's wrapper it
// is injected into another HTTPer.
type HTTPWrapper struct {
	*Store
}

// NewHTTPWrapper returns an HTTP wrapper around s
func NewHTTPWrapper(s *Store) HTTPWrapper {
	return HTTPWrapper{s}
}

// ListSamples sends the most recent samples, ?limit=N
func (h HTTPWrapper) ListSamples(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if str := r.URL.Query().Get("limit"); str != "" {
		n, err := strconv.Atoi(str)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := h.Samples(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []SampleRecord{}
	}
	server.EncodeJSON(w, recs)
}

// GetSample sends one sample with its spectrum
func (h HTTPWrapper) GetSample(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Sample(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.EncodeJSON(w, rec)
}

// GetLatestCalibration sends the most recent calibration
func (h HTTPWrapper) GetLatestCalibration(w http.ResponseWriter, r *http.Request) {
	rec, err := h.LatestCalibration(r.Context())
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.EncodeJSON(w, rec)
}

// Inject adds GET /history/samples, /history/samples/{id} and
// /history/calibration to the HTTPer
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/history/samples"}] = h.ListSamples
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/history/samples/{id}"}] = h.GetSample
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/history/calibration"}] = h.GetLatestCalibration
}
