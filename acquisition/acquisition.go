/*Package acquisition drives the sensor and the laser of a spectrometer to
capture spectra of usable quality.

A Controller owns the integration time, the laser power and the dark noise.
Its auto-tune loops adjust the integration time or the power by a constant
factor until the signal is neither saturated nor too low, or a bound is
reached.  Every blocking call observes its context.
*/
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/ramanlab/camera"
	"github.com/nasa-jpl/ramanlab/conditioning"
	"github.com/nasa-jpl/ramanlab/generichttp/laser"
	"github.com/nasa-jpl/ramanlab/mathx"
)

// Limits bounds the integration time (us) and the laser power (W)
type Limits struct {
	MinIntegrationTime     float64 `koanf:"MinIntegrationTime" yaml:"MinIntegrationTime"`
	MaxIntegrationTime     float64 `koanf:"MaxIntegrationTime" yaml:"MaxIntegrationTime"`
	DefaultIntegrationTime float64 `koanf:"DefaultIntegrationTime" yaml:"DefaultIntegrationTime"`

	MinPower     float64 `koanf:"MinPower" yaml:"MinPower"`
	MaxPower     float64 `koanf:"MaxPower" yaml:"MaxPower"`
	DefaultPower float64 `koanf:"DefaultPower" yaml:"DefaultPower"`

	// Step is the factor applied on each auto-tune iteration, > 1
	Step float64 `koanf:"Step" yaml:"Step"`
}

// DefaultLimits are the limits of the reference instrument
func DefaultLimits() Limits {
	return Limits{
		MinIntegrationTime:     1,
		MaxIntegrationTime:     30e6,
		DefaultIntegrationTime: 1e4,
		MinPower:               2e-3,
		MaxPower:               120e-3,
		DefaultPower:           5e-2,
		Step:                   1.25,
	}
}

// Validate checks that the limits are ordered and the step grows
func (l Limits) Validate() error {
	if l.MinIntegrationTime <= 0 || l.MinIntegrationTime > l.MaxIntegrationTime {
		return fmt.Errorf("acquisition: bad integration time bounds [%g, %g]", l.MinIntegrationTime, l.MaxIntegrationTime)
	}
	if l.MinPower <= 0 || l.MinPower > l.MaxPower {
		return fmt.Errorf("acquisition: bad power bounds [%g, %g]", l.MinPower, l.MaxPower)
	}
	if l.Step <= 1 {
		return fmt.Errorf("acquisition: step %g must be greater than 1", l.Step)
	}
	return nil
}

// Config holds the tunables of a Controller
type Config struct {
	Limits Limits

	// Averages is the number of captures averaged into a spectrum
	Averages int

	// Settle is the time waited after every change of laser state
	Settle time.Duration

	// MaxFrameRate limits captures per second, unlimited if zero
	MaxFrameRate float64
}

// DefaultConfig is the configuration of the reference instrument
func DefaultConfig() Config {
	return Config{
		Limits:   DefaultLimits(),
		Averages: 5,
		Settle:   time.Second,
	}
}

// Tuning is the outcome of an auto-tune loop
type Tuning struct {
	// Value is the final integration time or power
	Value float64

	// Iterations is the number of adjustments made
	Iterations int

	// Converged is false if the last frame is still low or saturated
	Converged bool

	// Frame is the last capture
	Frame camera.Frame
}

// Controller captures frames and tunes the exposure of a spectrometer.  It is
// not safe for concurrent use.
type Controller struct {
	sensor  camera.LineSensor
	light   laser.Source
	cfg     Config
	limiter *rate.Limiter

	inttime float64
	power   float64
	dark    []float64
}

// New returns a Controller with the integration time and power at their
// defaults.  No I/O is done.
func New(sensor camera.LineSensor, light laser.Source, cfg Config) (*Controller, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Averages < 1 {
		return nil, fmt.Errorf("acquisition: averages %d must be at least 1", cfg.Averages)
	}
	c := &Controller{
		sensor:  sensor,
		light:   light,
		cfg:     cfg,
		inttime: mathx.Clamp(cfg.Limits.DefaultIntegrationTime, cfg.Limits.MinIntegrationTime, cfg.Limits.MaxIntegrationTime),
		power:   mathx.Clamp(cfg.Limits.DefaultPower, cfg.Limits.MinPower, cfg.Limits.MaxPower),
	}
	if cfg.MaxFrameRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFrameRate), 1)
	}
	return c, nil
}

// IntegrationTime returns the current integration time, us
func (c *Controller) IntegrationTime() float64 { return c.inttime }

// Power returns the current laser power setpoint, W
func (c *Controller) Power() float64 { return c.power }

// Limits returns the bounds the controller tunes within
func (c *Controller) Limits() Limits { return c.cfg.Limits }

// DarkNoise returns a copy of the dark noise, nil if none was captured
func (c *Controller) DarkNoise() []float64 {
	if c.dark == nil {
		return nil
	}
	return append([]float64(nil), c.dark...)
}

// Settle waits for the laser to stabilize
func (c *Controller) Settle(ctx context.Context) error {
	if c.cfg.Settle <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.cfg.Settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Capture takes one frame, waiting for the frame rate limiter if one is set
func (c *Controller) Capture(ctx context.Context) (camera.Frame, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := c.sensor.CaptureFrame()
	if err != nil {
		return nil, fault("capture", err)
	}
	return f, nil
}

func (c *Controller) applyIntegrationTime(t float64) error {
	return fault("set integration time", c.sensor.SetIntegrationTime(t))
}

func (c *Controller) applyPower(ctx context.Context, p float64) error {
	if err := c.light.SetPower(p); err != nil {
		return fault("set laser power", err)
	}
	return c.Settle(ctx)
}

// ApplyIntegrationTime sends the current integration time to the sensor
func (c *Controller) ApplyIntegrationTime() error {
	return c.applyIntegrationTime(c.inttime)
}

// SetIntegrationTime clamps t to the limits, makes it the current integration
// time and sends it to the sensor
func (c *Controller) SetIntegrationTime(t float64) error {
	l := c.cfg.Limits
	c.inttime = mathx.Clamp(t, l.MinIntegrationTime, l.MaxIntegrationTime)
	return c.applyIntegrationTime(c.inttime)
}

// ApplyPower sends the current power to the laser and waits for it to settle
func (c *Controller) ApplyPower(ctx context.Context) error {
	return c.applyPower(ctx, c.power)
}

// StartLaser starts the laser at the current power, refuses to go on if it
// reports a fault or an open interlock, then waits for it to settle
func (c *Controller) StartLaser(ctx context.Context) error {
	if err := c.light.Start(c.power); err != nil {
		return fault("start laser", err)
	}
	code, err := c.light.GetFault()
	if err != nil {
		return fault("read laser fault", err)
	}
	if code != 0 {
		var ferr error = LaserFault{Code: code}
		if d, ok := c.light.(laser.FaultDescriber); ok {
			ferr = d.FaultError(code)
		}
		return fault("laser fault check", ferr)
	}
	open, err := c.light.GetInterlockOpen()
	if err != nil {
		return fault("read laser interlock", err)
	}
	if open {
		return fault("laser interlock check", ErrInterlockOpen)
	}
	return c.Settle(ctx)
}

// quality reports the state of a frame
func quality(f camera.Frame) (low, saturated bool) {
	x := f.Float64()
	return conditioning.DetectLowSignal(x), conditioning.DetectSaturation(x)
}

// tune is the two phase search shared by the exposure and power loops.
// apply sets a value on the hardware.  If applied is true the hardware is
// already at v and the first frame is captured without calling apply.
func (c *Controller) tune(ctx context.Context, v, lo, hi float64, apply func(float64) error, applied bool) (Tuning, error) {
	step := c.cfg.Limits.Step
	maxSteps := mathx.StepsBetween(lo, hi, step)
	v = mathx.Clamp(v, lo, hi)

	shoot := func() (camera.Frame, error) {
		if err := apply(v); err != nil {
			return nil, err
		}
		return c.Capture(ctx)
	}
	var (
		frame camera.Frame
		err   error
	)
	if applied {
		frame, err = c.Capture(ctx)
	} else {
		frame, err = shoot()
	}
	if err != nil {
		return Tuning{Value: v}, err
	}
	iters := 0
	low, sat := quality(frame)
	for n := 0; low && v < hi && n < maxSteps; n++ {
		v = mathx.Clamp(v*step, lo, hi)
		if frame, err = shoot(); err != nil {
			return Tuning{Value: v, Iterations: iters}, err
		}
		iters++
		low, sat = quality(frame)
	}
	for n := 0; sat && v > lo && n < maxSteps; n++ {
		v = mathx.Clamp(v/step, lo, hi)
		if frame, err = shoot(); err != nil {
			return Tuning{Value: v, Iterations: iters}, err
		}
		iters++
		low, sat = quality(frame)
	}
	return Tuning{Value: v, Iterations: iters, Converged: !low && !sat, Frame: frame}, nil
}

// AutoTuneExposure adjusts the integration time until a frame is neither
// low nor saturated, or a bound is reached.  The integration time is
// raised first while the signal is low, then lowered while it is saturated.
func (c *Controller) AutoTuneExposure(ctx context.Context) (Tuning, error) {
	l := c.cfg.Limits
	tun, err := c.tune(ctx, c.inttime, l.MinIntegrationTime, l.MaxIntegrationTime, c.applyIntegrationTime, false)
	c.inttime = tun.Value
	return tun, err
}

// AutoTunePower adjusts the laser power the way AutoTuneExposure adjusts the
// integration time, settling the laser after every change.  The laser is
// expected to emit at Power() already, as StartLaser leaves it, so the first
// frame is taken without touching the laser.
func (c *Controller) AutoTunePower(ctx context.Context) (Tuning, error) {
	l := c.cfg.Limits
	apply := func(p float64) error { return c.applyPower(ctx, p) }
	tun, err := c.tune(ctx, c.power, l.MinPower, l.MaxPower, apply, true)
	c.power = tun.Value
	return tun, err
}

// AverageCaptures returns the element-wise mean of n frames
func (c *Controller) AverageCaptures(ctx context.Context, n int) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("acquisition: cannot average %d captures", n)
	}
	var acc []float64
	for i := 0; i < n; i++ {
		f, err := c.Capture(ctx)
		if err != nil {
			return nil, err
		}
		x := f.Float64()
		if acc == nil {
			acc = x
			continue
		}
		if len(x) != len(acc) {
			return nil, fault("capture", fmt.Errorf("frame length changed from %d to %d", len(acc), len(x)))
		}
		vecmath.AddBlockInPlace(acc, x)
	}
	avg := make([]float64, len(acc))
	vecmath.ScaleBlock(avg, acc, 1/float64(n))
	return avg, nil
}

// Average returns the mean of the configured number of captures
func (c *Controller) Average(ctx context.Context) ([]float64, error) {
	return c.AverageCaptures(ctx, c.cfg.Averages)
}

// CaptureDarkNoise stops the laser, waits for it to settle and stores the
// mean of the configured number of captures as dark noise
func (c *Controller) CaptureDarkNoise(ctx context.Context) ([]float64, error) {
	if err := c.light.Stop(); err != nil {
		return nil, fault("stop laser", err)
	}
	if err := c.Settle(ctx); err != nil {
		return nil, err
	}
	dark, err := c.Average(ctx)
	if err != nil {
		return nil, err
	}
	c.dark = dark
	return append([]float64(nil), dark...), nil
}

// SubtractDark removes the dark noise from x
func (c *Controller) SubtractDark(x []float64) ([]float64, error) {
	if c.dark == nil {
		return nil, ErrNoDarkNoise
	}
	y, err := conditioning.Subtract(x, c.dark)
	if errors.Is(err, conditioning.ErrLengthMismatch) {
		return nil, fault("dark subtraction", err)
	}
	return y, err
}

// SetDarkNoise replaces the dark noise.  nil forgets it.
func (c *Controller) SetDarkNoise(dark []float64) {
	if dark == nil {
		c.dark = nil
		return
	}
	c.dark = append([]float64(nil), dark...)
}
