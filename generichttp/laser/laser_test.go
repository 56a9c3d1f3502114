package laser_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/cobolt"
	"github.com/nasa-jpl/ramanlab/generichttp/laser"
	"github.com/nasa-jpl/ramanlab/server"
)

func get(t *testing.T, h http.Handler, path string, v interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHTTPLaserController(t *testing.T) {
	m := cobolt.NewMock()
	require.NoError(t, m.Initialize("mock"))
	require.NoError(t, m.Start(0.05))
	m.InjectFault(1)

	h := laser.NewHTTPLaserController(m)
	assert.Equal(t, []string{"GET /emission", "GET /fault", "GET /interlock", "GET /power"}, h.RT().Endpoints())
	r := chi.NewRouter()
	h.RT().Bind(r)

	var b server.BoolT
	get(t, r, "/emission", &b)
	assert.True(t, b.Bool)

	var i server.IntT
	get(t, r, "/fault", &i)
	assert.Equal(t, 1, i.Int)

	get(t, r, "/interlock", &b)
	assert.False(t, b.Bool)

	var f server.FloatT
	get(t, r, "/power", &f)
	assert.Zero(t, f.F64, "faulted laser has no output")
}

func TestHTTPLaserControllerErrors(t *testing.T) {
	m := cobolt.NewMock() // not initialized
	r := chi.NewRouter()
	laser.NewHTTPLaserController(m).RT().Bind(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/power", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
