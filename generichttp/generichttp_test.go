package generichttp_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/ramanlab/generichttp"
)

func TestSubMuxSanitize(t *testing.T) {
	for in, want := range map[string]string{
		"raman/laser":    "/raman/laser",
		"/raman/laser/*": "/raman/laser",
		"/spectrometer/": "/spectrometer",
	} {
		assert.Equal(t, want, generichttp.SubMuxSanitize(in), in)
	}
}

func TestGetFloat(t *testing.T) {
	rec := httptest.NewRecorder()
	generichttp.GetFloat(func() (float64, error) { return 0.25, nil })(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.JSONEq(t, `{"f64":0.25}`, rec.Body.String())

	rec = httptest.NewRecorder()
	generichttp.GetBool(func() (bool, error) { return false, errors.New("boom") })(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
