package store_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/generichttp"
	"github.com/nasa-jpl/ramanlab/session"
	"github.com/nasa-jpl/ramanlab/store"
)

var _ session.Archive = (*store.Store)(nil)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func calib(at time.Time, coeffs ...float64) *session.Calibration {
	return &session.Calibration{
		Time:               at,
		Parameters:         calibration.Parameters{Coeffs: coeffs},
		IntegrationTime:    12500,
		Power:              0.05,
		ExposureConverged:  true,
		ExposureIterations: 1,
		Spectrum:           []float64{0, 1, 0},
		DarkNoise:          []float64{600, 601, 599},
	}
}

func sample(at time.Time) *session.Sample {
	return &session.Sample{
		Time:              at,
		Conditioned:       []float64{0, 2.5, 0},
		Wavenumbers:       []float64{50, 50.55, 51.1},
		IntegrationTime:   12500,
		Power:             0.0625,
		ExposureConverged: true,
		PowerConverged:    true,
		PowerIterations:   1,
		Calibration:       calibration.Parameters{Coeffs: []float64{0.55, 50}},
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordCalibration(context.Background(), calib(t0, 0.55, 50)))
	require.NoError(t, s.Close())

	// migrations are not applied twice
	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.LatestCalibration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{0.55, 50}, rec.Coeffs)
}

func TestLatestCalibration(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	_, err := s.LatestCalibration(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.RecordCalibration(ctx, calib(t0, 0.5, 40)))
	require.NoError(t, s.RecordCalibration(ctx, calib(t0.Add(time.Hour), 0.55, 50)))
	require.NoError(t, s.RecordCalibration(ctx, calib(t0.Add(time.Minute+500*time.Millisecond), 0.6, 45)))

	rec, err := s.LatestCalibration(ctx)
	require.NoError(t, err)
	want := store.CalibrationRecord{
		ID:                 rec.ID,
		Time:               t0.Add(time.Hour),
		Coeffs:             []float64{0.55, 50},
		IntegrationTime:    12500,
		Power:              0.05,
		ExposureConverged:  true,
		ExposureIterations: 1,
		Spectrum:           []float64{0, 1, 0},
		DarkNoise:          []float64{600, 601, 599},
	}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("calibration mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, rec.ID, 36)
}

func TestSamples(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	// a sample before any calibration is not linked
	require.NoError(t, s.RecordSample(ctx, sample(t0)))
	require.NoError(t, s.RecordCalibration(ctx, calib(t0, 0.55, 50)))
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.RecordSample(ctx, sample(t0.Add(time.Duration(i)*time.Second))))
	}

	recs, err := s.Samples(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.True(t, t0.Add(3*time.Second).Equal(recs[0].Time), "newest first")
	assert.NotEmpty(t, recs[0].CalibrationID)
	assert.Empty(t, recs[3].CalibrationID)
	assert.Nil(t, recs[0].Intensity)

	recs, err = s.Samples(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	one, err := s.Sample(ctx, recs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2.5, 0}, one.Intensity)
	assert.Equal(t, []float64{50, 50.55, 51.1}, one.Wavenumbers)
	assert.True(t, one.PowerConverged)
	assert.Equal(t, 0.0625, one.Power)

	_, err = s.Sample(ctx, "no-such-sample")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

type routes generichttp.RouteTable

func (r routes) RT() generichttp.RouteTable { return generichttp.RouteTable(r) }

func TestHTTPWrapper(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, s.RecordCalibration(ctx, calib(t0, 0.55, 50)))
	require.NoError(t, s.RecordSample(ctx, sample(t0)))

	rt := routes{}
	store.NewHTTPWrapper(s).Inject(rt)
	mux := chi.NewRouter()
	rt.RT().Bind(mux)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	resp := get("/history/samples")
	require.Equal(t, http.StatusOK, resp.Code)
	var list []store.SampleRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list, 1)

	resp = get("/history/samples/" + list[0].ID)
	require.Equal(t, http.StatusOK, resp.Code)
	var one store.SampleRecord
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &one))
	assert.Len(t, one.Intensity, 3)

	assert.Equal(t, http.StatusNotFound, get("/history/samples/missing").Code)
	assert.Equal(t, http.StatusBadRequest, get("/history/samples?limit=-1").Code)
	assert.Equal(t, http.StatusOK, get("/history/calibration").Code)
}
