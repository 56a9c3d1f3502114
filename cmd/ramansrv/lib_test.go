package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/session"
)

func TestSimLines(t *testing.T) {
	guess := calibration.DefaultGuess()
	lines := simLines(calibration.DefaultModel(), guess, 3648)
	// 1872 1/cm is beyond the top of the default guess
	require.Len(t, lines, 2)
	for i, l := range lines {
		assert.InDelta(t, calibration.DefaultModel()[i].Wavenumber, guess.Wavenumber(l.Pixel), 1, "line %d", i)
	}
	assert.Greater(t, lines[0].Rate, lines[1].Rate)
}

func mockConfig(t *testing.T) Config {
	c := DefaultConfig()
	c.Mock = true
	c.Timing.Settle = 0
	c.Recorder.Root = t.TempDir()
	c.Archive.Path = filepath.Join(t.TempDir(), "history.db")
	return c
}

func TestBuildMuxMock(t *testing.T) {
	c := mockConfig(t)
	c.Recorder.Enabled = true
	inst, err := Build(c)
	require.NoError(t, err)
	defer inst.Close()
	srv := httptest.NewServer(BuildMux(c, inst))
	defer srv.Close()

	post := func(path, body string) int {
		resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	get := func(path string, v interface{}) int {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		if v != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
		}
		return resp.StatusCode
	}

	graph := map[string][]string{}
	require.Equal(t, http.StatusOK, get("/endpoints", &graph))
	assert.Contains(t, graph["/spectrometer"], "POST /calibrate")
	assert.Contains(t, graph["/spectrometer"], "GET /autowrite/root")
	assert.Contains(t, graph["/spectrometer"], "GET /history/samples")
	assert.Contains(t, graph["/laser"], "GET /interlock")
	assert.Contains(t, graph["/sensor"], "GET /pixels")

	// a locked spectrometer refuses commands and still reports its state
	require.Equal(t, http.StatusOK, post("/spectrometer/lock", `{"bool":true}`))
	assert.Equal(t, http.StatusLocked, post("/spectrometer/initialize", ""))
	assert.Equal(t, http.StatusOK, get("/spectrometer/state", nil))
	require.Equal(t, http.StatusOK, post("/spectrometer/lock", `{"bool":false}`))

	require.Equal(t, http.StatusOK, post("/spectrometer/initialize", ""))
	require.Equal(t, http.StatusOK, post("/spectrometer/calibrate", ""))
	var p calibration.Parameters
	require.Equal(t, http.StatusOK, get("/spectrometer/calibration", &p))
	assert.Equal(t, 1, p.Degree())

	require.Equal(t, http.StatusOK, post("/spectrometer/acquire", ""))
	var power map[string]float64
	require.Equal(t, http.StatusOK, get("/laser/power", &power))
	assert.Greater(t, power["f64"], 0.)

	var hist []json.RawMessage
	require.Equal(t, http.StatusOK, get("/spectrometer/history/samples", &hist))
	assert.Len(t, hist, 1)

	days, err := os.ReadDir(c.Recorder.Root)
	require.NoError(t, err)
	require.Len(t, days, 1)
	files, err := os.ReadDir(filepath.Join(c.Recorder.Root, days[0].Name()))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.Equal(t, http.StatusOK, post("/spectrometer/shutdown", ""))
	assert.Equal(t, session.Shutdown, inst.Session.State())
}

func TestSessionConfig(t *testing.T) {
	c := DefaultConfig()
	sc := c.SessionConfig()
	assert.Equal(t, c.Limits, sc.Acquisition.Limits)
	assert.Equal(t, calibration.DefaultGuess(), sc.Guess)
	assert.Equal(t, calibration.DefaultModel(), sc.Model)
	assert.Equal(t, "/dev/ttyUSB0", sc.LaserPort)
}

func TestEnvKey(t *testing.T) {
	setupconfig()
	assert.Equal(t, "Limits.MaxPower", envKey("RAMAN_LIMITS_MAXPOWER"))
	assert.Equal(t, "Laser.Addr", envKey("RAMAN_LASER_ADDR"))
	assert.Equal(t, "nonsense", envKey("RAMAN_NONSENSE"))
}
