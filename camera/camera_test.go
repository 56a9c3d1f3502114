package camera_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/camera"
)

type constLight float64

func (c constLight) GetPower() (float64, error) { return float64(c), nil }

var _ camera.LineSensor = (*camera.Simulated)(nil)

func TestSimulatedLineHeight(t *testing.T) {
	s := camera.NewSimulated(constLight(0.05), camera.SimLine{Pixel: 1000, Sigma: 4, Rate: 60})
	s.ReadNoise = 0
	require.NoError(t, s.Initialize(0))
	require.NoError(t, s.SetIntegrationTime(1e4))

	f, err := s.CaptureFrame()
	require.NoError(t, err)
	require.Len(t, f, camera.DefaultPixels)
	// dark + t*P*(background + rate)
	assert.Equal(t, uint16(600+1e4*0.05*(2+60)), f[1000])
	assert.Equal(t, uint16(600+1e4*0.05*2), f[0])
	assert.Equal(t, f[1000], f.Max())
}

func TestSimulatedClips(t *testing.T) {
	s := camera.NewSimulated(constLight(0.1), camera.SimLine{Pixel: 10, Sigma: 2, Rate: 60})
	require.NoError(t, s.Initialize(0))
	require.NoError(t, s.SetIntegrationTime(1e6))
	f, err := s.CaptureFrame()
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), f.Max())
}

func TestSimulatedDark(t *testing.T) {
	s := camera.NewSimulated(nil, camera.SimLine{Pixel: 10, Sigma: 2, Rate: 60})
	s.ReadNoise = 0
	require.NoError(t, s.Initialize(0))
	f, err := s.CaptureFrame()
	require.NoError(t, err)
	assert.Equal(t, uint16(600), f.Max())
}

func TestSimulatedReproducible(t *testing.T) {
	frames := make([]camera.Frame, 2)
	for i := range frames {
		s := camera.NewSimulated(constLight(0.05), camera.SimLine{Pixel: 100, Sigma: 3, Rate: 10})
		require.NoError(t, s.Initialize(0))
		f, err := s.CaptureFrame()
		require.NoError(t, err)
		frames[i] = f
	}
	if diff := cmp.Diff(frames[0], frames[1]); diff != "" {
		t.Errorf("frames differ (-first +second):\n%s", diff)
	}
}

func TestSimulatedNotOpen(t *testing.T) {
	s := camera.NewSimulated(nil)
	_, err := s.CaptureFrame()
	assert.ErrorIs(t, err, camera.ErrNotOpen)
	require.NoError(t, s.Initialize(0))
	require.NoError(t, s.Shutdown())
	assert.ErrorIs(t, s.SetIntegrationTime(10), camera.ErrNotOpen)
}

func TestFrameFloat64(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 65535}, camera.Frame{1, 2, 65535}.Float64())
}
