package acquisition_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ramanlab/acquisition"
	"github.com/nasa-jpl/ramanlab/camera"
	"github.com/nasa-jpl/ramanlab/cobolt"
	"github.com/nasa-jpl/ramanlab/mathx"
)

// fakeSensor reports a frame whose single bright pixel is response(t, P)
type fakeSensor struct {
	pixels   int
	inttime  float64
	light    *cobolt.Mock
	response func(t, p float64) float64
	captures int
	err      error
	setErr   error
}

func (s *fakeSensor) Initialize(int) error { return nil }
func (s *fakeSensor) Shutdown() error      { return nil }

func (s *fakeSensor) SetIntegrationTime(us float64) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.inttime = us
	return nil
}

func (s *fakeSensor) CaptureFrame() (camera.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.captures++
	p, _ := s.light.GetPower()
	v := math.Min(math.Max(s.response(s.inttime, p), 0), 65535)
	f := make(camera.Frame, s.pixels)
	f[s.pixels/2] = uint16(v)
	return f, nil
}

func newController(t *testing.T, resp func(t, p float64) float64) (*acquisition.Controller, *fakeSensor, *cobolt.Mock) {
	t.Helper()
	m := cobolt.NewMock()
	require.NoError(t, m.Initialize("mock"))
	s := &fakeSensor{pixels: 64, light: m, response: resp}
	cfg := acquisition.DefaultConfig()
	cfg.Settle = 0
	c, err := acquisition.New(s, m, cfg)
	require.NoError(t, err)
	require.NoError(t, c.StartLaser(context.Background()))
	return c, s, m
}

// saturatesAbove is a sensor that saturates for integration times above
// threshold and reads mid-scale otherwise
func saturatesAbove(threshold float64) func(t, p float64) float64 {
	return func(t, p float64) float64 {
		if t > threshold {
			return 65535
		}
		return 30000
	}
}

func TestAutoTuneExposureSaturating(t *testing.T) {
	limits := acquisition.DefaultLimits()
	bound := mathx.StepsBetween(limits.MinIntegrationTime, limits.MaxIntegrationTime, limits.Step)
	for _, threshold := range []float64{5000, 9999, 1e4, 1.5, 0.5} {
		c, _, _ := newController(t, saturatesAbove(threshold))
		tun, err := c.AutoTuneExposure(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, tun.Iterations, bound)
		if threshold < limits.MinIntegrationTime {
			assert.Equal(t, limits.MinIntegrationTime, tun.Value)
			assert.False(t, tun.Converged)
		} else {
			assert.LessOrEqual(t, tun.Value, threshold)
			assert.True(t, tun.Converged)
		}
		assert.Equal(t, tun.Value, c.IntegrationTime())
	}
}

func TestAutoTuneExposureSteps(t *testing.T) {
	c, s, _ := newController(t, saturatesAbove(5000))
	tun, err := c.AutoTuneExposure(context.Background())
	require.NoError(t, err)
	// 1e4 -> 8000 -> 6400 -> 5120 -> 4096
	assert.Equal(t, 4, tun.Iterations)
	assert.InDelta(t, 4096, tun.Value, 1e-9)
	assert.Equal(t, 5, s.captures)
	assert.Equal(t, uint16(30000), tun.Frame.Max())
}

func TestAutoTuneExposureRaisesLowSignal(t *testing.T) {
	c, _, _ := newController(t, func(t, p float64) float64 { return 2 * t })
	tun, err := c.AutoTuneExposure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, tun.Iterations)
	assert.Equal(t, 12500., tun.Value)
	assert.True(t, tun.Converged)
}

func TestAutoTuneExposureDarkSensorHitsMax(t *testing.T) {
	c, _, _ := newController(t, func(t, p float64) float64 { return 10 })
	tun, err := c.AutoTuneExposure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, acquisition.DefaultLimits().MaxIntegrationTime, tun.Value)
	assert.False(t, tun.Converged)
}

func TestAutoTunePower(t *testing.T) {
	c, _, m := newController(t, func(t, p float64) float64 { return 2e5 * p })
	tun, err := c.AutoTunePower(context.Background())
	require.NoError(t, err)
	// 0.05 -> 0.0625 -> 0.078 -> 0.098 -> 0.12 (clamped)
	assert.Equal(t, 4, tun.Iterations)
	assert.Equal(t, 0.12, tun.Value)
	assert.True(t, tun.Converged)
	assert.Equal(t, 0.12, m.Setpoint())
	assert.Equal(t, 0.12, c.Power())
}

func TestAutoTunePowerStartsFromLaser(t *testing.T) {
	c, s, m := newController(t, func(t, p float64) float64 { return 30000 })
	tun, err := c.AutoTunePower(context.Background())
	require.NoError(t, err)
	assert.True(t, tun.Converged)
	assert.Zero(t, tun.Iterations)
	assert.Equal(t, 1, s.captures)
	// StartLaser set the power, the loop had nothing to change
	for _, h := range m.History() {
		assert.NotContains(t, h, "power")
	}
}

func TestSetIntegrationTime(t *testing.T) {
	c, s, _ := newController(t, saturatesAbove(5000))
	require.NoError(t, c.SetIntegrationTime(2500))
	assert.Equal(t, 2500., c.IntegrationTime())
	assert.Equal(t, 2500., s.inttime)

	limits := acquisition.DefaultLimits()
	require.NoError(t, c.SetIntegrationTime(1e12))
	assert.Equal(t, limits.MaxIntegrationTime, s.inttime)

	s.setErr = errors.New("usb stall")
	var hw *acquisition.HardwareFault
	assert.ErrorAs(t, c.SetIntegrationTime(100), &hw)
}

func TestHardwareFault(t *testing.T) {
	c, s, _ := newController(t, saturatesAbove(1e9))
	s.err = errors.New("usb pipe stalled")
	_, err := c.AutoTuneExposure(context.Background())
	var hf *acquisition.HardwareFault
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, "capture", hf.Op)
	assert.ErrorIs(t, err, s.err)

	s.err = nil
	s.setErr = errors.New("timeout")
	_, err = c.AutoTuneExposure(context.Background())
	require.True(t, errors.As(err, &hf))
	assert.Equal(t, "set integration time", hf.Op)
}

func TestStartLaserChecks(t *testing.T) {
	c, _, m := newController(t, saturatesAbove(1e9))

	m.InjectFault(1)
	err := c.StartLaser(context.Background())
	var f cobolt.Fault
	require.True(t, errors.As(err, &f))
	assert.Equal(t, 1, f.Code)

	m.InjectFault(0)
	m.TurnKey(false)
	err = c.StartLaser(context.Background())
	assert.ErrorIs(t, err, acquisition.ErrInterlockOpen)
	var hf *acquisition.HardwareFault
	assert.True(t, errors.As(err, &hf))
}

func TestAverageCaptures(t *testing.T) {
	n := 0.
	c, _, _ := newController(t, func(t, p float64) float64 { n++; return n * 100 })
	avg, err := c.AverageCaptures(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, avg, 64)
	assert.InDelta(t, 200, avg[32], 1e-9)
	assert.Zero(t, avg[0])

	_, err = c.AverageCaptures(context.Background(), 0)
	assert.Error(t, err)
}

func TestDarkNoise(t *testing.T) {
	c, _, m := newController(t, func(t, p float64) float64 { return 500 + 1e5*p })
	_, err := c.SubtractDark(make([]float64, 64))
	assert.ErrorIs(t, err, acquisition.ErrNoDarkNoise)

	dark, err := c.CaptureDarkNoise(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.Setpoint(), "laser stopped for dark capture")
	assert.InDelta(t, 500, dark[32], 1e-9)

	x := make([]float64, 64)
	x[32] = 1500
	y, err := c.SubtractDark(x)
	require.NoError(t, err)
	assert.InDelta(t, 1000, y[32], 1e-9)

	_, err = c.SubtractDark(make([]float64, 10))
	var hf *acquisition.HardwareFault
	assert.True(t, errors.As(err, &hf))
}

func TestCancellation(t *testing.T) {
	m := cobolt.NewMock()
	require.NoError(t, m.Initialize("mock"))
	s := &fakeSensor{pixels: 8, light: m, response: saturatesAbove(1e9)}
	cfg := acquisition.DefaultConfig()
	cfg.Settle = time.Hour
	cfg.MaxFrameRate = 1000
	c, err := acquisition.New(s, m, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.StartLaser(ctx), context.Canceled)
	_, err = c.Capture(ctx)
	assert.Error(t, err)
	assert.Zero(t, s.captures)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, c.Settle(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestNewValidates(t *testing.T) {
	cfg := acquisition.DefaultConfig()
	cfg.Limits.Step = 1
	_, err := acquisition.New(nil, nil, cfg)
	assert.Error(t, err)

	cfg = acquisition.DefaultConfig()
	cfg.Averages = 0
	_, err = acquisition.New(nil, nil, cfg)
	assert.Error(t, err)
}
