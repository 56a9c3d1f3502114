/*Package session orchestrates a Raman spectrometer: a laser, a line sensor,
an acquisition controller and the wavelength calibration that ties the
sensor pixels to Raman shift.

A Session moves through

	Uninitialized -> Initialized -> Calibrated -> Ready -> Shutdown

with Calibrating and AcquiringSample reported while those operations run.
Operations are serialized; an operation invoked while another is running
returns ErrBusy rather than waiting.  A hardware fault shuts both devices
down and closes the session.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nasa-jpl/ramanlab/acquisition"
	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/camera"
	"github.com/nasa-jpl/ramanlab/conditioning"
	"github.com/nasa-jpl/ramanlab/generichttp/laser"
)

// State is the lifecycle state of a session
type State int

const (
	// Uninitialized is the state of a new session
	Uninitialized State = iota

	// Initialized means the devices are open and the laser is off
	Initialized

	// Calibrating is reported while Calibrate runs
	Calibrating

	// Calibrated is reported between a successful calibration and Ready
	Calibrated

	// Ready means samples can be acquired
	Ready

	// AcquiringSample is reported while AcquireSample runs
	AcquiringSample

	// Shutdown is terminal
	Shutdown
)

var stateNames = map[State]string{
	Uninitialized:   "uninitialized",
	Initialized:     "initialized",
	Calibrating:     "calibrating",
	Calibrated:      "calibrated",
	Ready:           "ready",
	AcquiringSample: "acquiring-sample",
	Shutdown:        "shutdown",
}

func (s State) String() string {
	if str, ok := stateNames[s]; ok {
		return str
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrSessionClosed is generated by any operation after Shutdown
	ErrSessionClosed = errors.New("session: closed")

	// ErrBusy is generated when an operation is invoked while another runs
	ErrBusy = errors.New("session: another operation is in progress")
)

// StateError is generated when an operation is not allowed in the current state
type StateError struct {
	Op    string
	State State
}

// Error satisfies stdlib error interface
func (e *StateError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.State)
}

// Calibration is the outcome of a successful Calibrate
type Calibration struct {
	Time        time.Time              `json:"time"`
	Parameters  calibration.Parameters `json:"parameters"`
	Model       calibration.PeakModel  `json:"model"`
	Wavenumbers []float64              `json:"wavenumbers"`

	// IntegrationTime is the tuned integration time, us
	IntegrationTime float64 `json:"integrationTime"`

	// Power is the laser power, W
	Power float64 `json:"power"`

	ExposureConverged  bool `json:"exposureConverged"`
	ExposureIterations int  `json:"exposureIterations"`

	// Raw is the last frame of the exposure tuning
	Raw camera.Frame `json:"raw"`

	// Averaged is the dark subtracted mean of the calibration captures
	Averaged []float64 `json:"averaged"`

	// Spectrum is Averaged after the calibration pipeline
	Spectrum []float64 `json:"spectrum"`

	DarkNoise []float64 `json:"darkNoise"`
}

// Sample is one measured spectrum
type Sample struct {
	Time time.Time `json:"time"`

	// Raw is the last frame of the power tuning
	Raw camera.Frame `json:"raw"`

	// Averaged is the dark subtracted mean of the sample captures
	Averaged []float64 `json:"averaged"`

	// Conditioned is Averaged after the sample pipeline
	Conditioned []float64 `json:"conditioned"`

	// Wavenumbers is the Raman shift of each pixel, 1/cm
	Wavenumbers []float64 `json:"wavenumbers"`

	IntegrationTime   float64                `json:"integrationTime"`
	Power             float64                `json:"power"`
	ExposureConverged bool                   `json:"exposureConverged"`
	PowerConverged    bool                   `json:"powerConverged"`
	PowerIterations   int                    `json:"powerIterations"`
	Calibration       calibration.Parameters `json:"calibration"`
}

// Archive records the history of a session.  Archive errors are logged and
// do not fail the measurement.
type Archive interface {
	RecordCalibration(ctx context.Context, c *Calibration) error
	RecordSample(ctx context.Context, s *Sample) error
}

// Config holds the tunables of a session
type Config struct {
	Acquisition acquisition.Config

	// LaserPort is passed to the laser's Initialize
	LaserPort string

	// SensorIndex is passed to the sensor's Initialize
	SensorIndex int

	// Model is the peak model of the calibration sample
	Model calibration.PeakModel

	// Guess is the a priori pixel to wavenumber polynomial
	Guess calibration.Parameters

	// Threshold scales the standard deviation added to the mean for the
	// calibration peak height threshold
	Threshold float64

	// Degree is the degree of the fitted polynomial
	Degree int

	CalibrationPipeline conditioning.Pipeline
	SamplePipeline      conditioning.Pipeline

	// Logger receives state changes and tuning outcomes; a default logger
	// writing to stderr is used if nil
	Logger *log.Logger

	// Archives each receive every calibration and sample
	Archives []Archive
}

// DefaultConfig returns the configuration of the reference instrument
func DefaultConfig() Config {
	return Config{
		Acquisition:         acquisition.DefaultConfig(),
		Model:               calibration.DefaultModel(),
		Guess:               calibration.DefaultGuess(),
		Threshold:           calibration.DefaultThreshold,
		Degree:              calibration.DefaultDegree,
		CalibrationPipeline: conditioning.CalibrationPipeline(),
		SamplePipeline:      conditioning.SamplePipeline(),
	}
}

// Session owns a laser, a sensor and their calibration
type Session struct {
	// op serializes operations, it is only ever TryLock'd
	op sync.Mutex

	sensor camera.LineSensor
	light  laser.Source
	ctl    *acquisition.Controller
	cfg    Config
	log    *log.Logger

	// mu guards the snapshot below, read by the accessors while an
	// operation is running
	mu      sync.RWMutex
	state   State
	inttime float64
	power   float64
	params  calibration.Parameters
	dark    []float64
	exposed bool
	last    *Sample
}

// New returns a session in the Uninitialized state.  No I/O is done.
func New(sensor camera.LineSensor, light laser.Source, cfg Config) (*Session, error) {
	if err := cfg.CalibrationPipeline.Validate(); err != nil {
		return nil, fmt.Errorf("session: calibration pipeline: %w", err)
	}
	if err := cfg.SamplePipeline.Validate(); err != nil {
		return nil, fmt.Errorf("session: sample pipeline: %w", err)
	}
	if len(cfg.Model) == 0 {
		return nil, errors.New("session: empty peak model")
	}
	if cfg.Guess.IsZero() {
		return nil, errors.New("session: empty calibration guess")
	}
	ctl, err := acquisition.New(sensor, light, cfg.Acquisition)
	if err != nil {
		return nil, err
	}
	lg := cfg.Logger
	if lg == nil {
		lg = log.New(os.Stderr, "session: ", log.LstdFlags)
	}
	return &Session{
		sensor:  sensor,
		light:   light,
		ctl:     ctl,
		cfg:     cfg,
		log:     lg,
		inttime: ctl.IntegrationTime(),
		power:   ctl.Power(),
	}, nil
}

// State returns the current state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IntegrationTime returns the integration time, us
func (s *Session) IntegrationTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inttime
}

// Power returns the laser power setpoint, W
func (s *Session) Power() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power
}

// Calibration returns a copy of the calibration parameters and true, or
// false if the session was never calibrated
func (s *Session) Calibration() (calibration.Parameters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.params.IsZero() {
		return calibration.Parameters{}, false
	}
	return s.params.Clone(), true
}

// DarkNoise returns a copy of the dark noise of the last calibration, nil if
// there is none
func (s *Session) DarkNoise() []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dark == nil {
		return nil
	}
	return append([]float64(nil), s.dark...)
}

// LastSample returns the last acquired sample, nil if there is none.
// The sample is shared and must not be modified.
func (s *Session) LastSample() *Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Printf("%s -> %s", prev, st)
	}
}

// sync copies the controller's settings into the snapshot
func (s *Session) sync() {
	s.mu.Lock()
	s.inttime = s.ctl.IntegrationTime()
	s.power = s.ctl.Power()
	s.mu.Unlock()
}

// begin claims the session for op.  On success the caller owns s.op and
// must unlock it.
func (s *Session) begin(op string, allowed ...State) (State, error) {
	if !s.op.TryLock() {
		return 0, ErrBusy
	}
	st := s.State()
	if st == Shutdown {
		s.op.Unlock()
		return st, ErrSessionClosed
	}
	for _, a := range allowed {
		if st == a {
			return st, nil
		}
	}
	s.op.Unlock()
	return st, &StateError{Op: op, State: st}
}

// fail handles an error that ended an operation begun in state prev
func (s *Session) fail(prev State, err error) error {
	s.sync()
	var hw *acquisition.HardwareFault
	if errors.As(err, &hw) {
		s.log.Printf("hardware fault, shutting down: %v", err)
		if serr := s.closeDevices(); serr != nil {
			s.log.Printf("shutdown after fault: %v", serr)
		}
		s.setState(Shutdown)
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if serr := s.light.Stop(); serr != nil {
			s.log.Printf("stopping laser after %v: %v", err, serr)
		}
	}
	s.setState(prev)
	return err
}

func (s *Session) closeDevices() error {
	return errors.Join(
		s.light.Shutdown(),
		s.sensor.Shutdown())
}

// Initialize opens the laser and the sensor and makes sure the laser is off
func (s *Session) Initialize(ctx context.Context) error {
	prev, err := s.begin("initialize", Uninitialized)
	if err != nil {
		return err
	}
	defer s.op.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.light.Initialize(s.cfg.LaserPort); err != nil {
		return s.fail(prev, &acquisition.HardwareFault{Op: "initialize laser", Err: err})
	}
	if err := s.light.Stop(); err != nil {
		return s.fail(prev, &acquisition.HardwareFault{Op: "stop laser", Err: err})
	}
	if err := s.sensor.Initialize(s.cfg.SensorIndex); err != nil {
		return s.fail(prev, &acquisition.HardwareFault{Op: "initialize sensor", Err: err})
	}
	if err := s.ctl.ApplyIntegrationTime(); err != nil {
		return s.fail(prev, err)
	}
	s.setState(Initialized)
	return nil
}

// Calibrate tunes the exposure on the calibration sample, captures dark
// noise and fits the pixel to wavenumber polynomial.  The laser is left on.
//
// If no polynomial can be fit the previous calibration, dark noise and
// integration time are kept and the state is unchanged.
func (s *Session) Calibrate(ctx context.Context) (*Calibration, error) {
	prev, err := s.begin("calibrate", Initialized, Ready)
	if err != nil {
		return nil, err
	}
	defer s.op.Unlock()
	if err := s.cfg.CalibrationPipeline.Validate(); err != nil {
		return nil, err
	}
	s.setState(Calibrating)
	// the dark noise is only valid at the integration time it was taken at
	oldDark, oldTime := s.ctl.DarkNoise(), s.ctl.IntegrationTime()
	cal, err := s.calibrate(ctx)
	if err != nil {
		s.ctl.SetDarkNoise(oldDark)
		var hw *acquisition.HardwareFault
		if !errors.As(err, &hw) {
			if rerr := s.ctl.SetIntegrationTime(oldTime); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return nil, s.fail(prev, err)
	}
	s.sync()
	s.mu.Lock()
	s.params = cal.Parameters.Clone()
	s.dark = cal.DarkNoise
	s.exposed = cal.ExposureConverged
	s.mu.Unlock()
	s.setState(Calibrated)
	s.log.Printf("calibrated: coefficients %v, integration time %s",
		cal.Parameters.Coeffs, humanize.SIWithDigits(cal.IntegrationTime*1e-6, 3, "s"))
	s.setState(Ready)
	for _, a := range s.cfg.Archives {
		if err := a.RecordCalibration(ctx, cal); err != nil {
			s.log.Printf("archiving calibration: %v", err)
		}
	}
	return cal, nil
}

func (s *Session) calibrate(ctx context.Context) (*Calibration, error) {
	c := s.ctl
	if err := c.StartLaser(ctx); err != nil {
		return nil, err
	}
	tun, err := c.AutoTuneExposure(ctx)
	if err != nil {
		return nil, err
	}
	if !tun.Converged {
		s.log.Printf("exposure did not converge after %d iterations, integration time %s",
			tun.Iterations, humanize.SIWithDigits(tun.Value*1e-6, 3, "s"))
	}
	dark, err := c.CaptureDarkNoise(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyPower(ctx); err != nil {
		return nil, err
	}
	avg, err := c.Average(ctx)
	if err != nil {
		return nil, err
	}
	avg, err = c.SubtractDark(avg)
	if err != nil {
		return nil, err
	}
	spectrum, err := s.cfg.CalibrationPipeline.Apply(avg)
	if err != nil {
		return nil, err
	}
	params, err := calibration.FindCorrection(spectrum, s.cfg.Model, s.cfg.Guess, s.cfg.Threshold, s.cfg.Degree)
	if err != nil {
		return nil, err
	}
	return &Calibration{
		Time:               time.Now(),
		Parameters:         params,
		Model:              append(calibration.PeakModel(nil), s.cfg.Model...),
		Wavenumbers:        params.Axis(len(spectrum)),
		IntegrationTime:    c.IntegrationTime(),
		Power:              c.Power(),
		ExposureConverged:  tun.Converged,
		ExposureIterations: tun.Iterations,
		Raw:                tun.Frame,
		Averaged:           avg,
		Spectrum:           spectrum,
		DarkNoise:          dark,
	}, nil
}

// AcquireSample tunes the laser power on the sample and returns its spectrum.
// The laser is left on.
func (s *Session) AcquireSample(ctx context.Context) (*Sample, error) {
	prev, err := s.begin("acquire sample", Ready)
	if err != nil {
		return nil, err
	}
	defer s.op.Unlock()
	if err := s.cfg.SamplePipeline.Validate(); err != nil {
		return nil, err
	}
	s.setState(AcquiringSample)
	smp, err := s.acquire(ctx)
	if err != nil {
		return nil, s.fail(prev, err)
	}
	s.sync()
	s.mu.Lock()
	s.last = smp
	s.mu.Unlock()
	s.setState(Ready)
	for _, a := range s.cfg.Archives {
		if err := a.RecordSample(ctx, smp); err != nil {
			s.log.Printf("archiving sample: %v", err)
		}
	}
	return smp, nil
}

func (s *Session) acquire(ctx context.Context) (*Sample, error) {
	c := s.ctl
	if err := c.StartLaser(ctx); err != nil {
		return nil, err
	}
	tun, err := c.AutoTunePower(ctx)
	if err != nil {
		return nil, err
	}
	if !tun.Converged {
		s.log.Printf("power did not converge after %d iterations, power %s",
			tun.Iterations, humanize.SIWithDigits(tun.Value, 3, "W"))
	}
	avg, err := c.Average(ctx)
	if err != nil {
		return nil, err
	}
	avg, err = c.SubtractDark(avg)
	if err != nil {
		return nil, err
	}
	clean, err := s.cfg.SamplePipeline.Apply(avg)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	params := s.params.Clone()
	exposed := s.exposed
	s.mu.RUnlock()
	return &Sample{
		Time:              time.Now(),
		Raw:               tun.Frame,
		Averaged:          avg,
		Conditioned:       clean,
		Wavenumbers:       params.Axis(len(clean)),
		IntegrationTime:   c.IntegrationTime(),
		Power:             c.Power(),
		ExposureConverged: exposed,
		PowerConverged:    tun.Converged,
		PowerIterations:   tun.Iterations,
		Calibration:       params,
	}, nil
}

// Shutdown turns the laser off and closes both devices.  Every device is
// shut down even if one fails; the errors are joined.  The session is closed
// afterwards regardless.
func (s *Session) Shutdown(ctx context.Context) error {
	prev, err := s.begin("shut down", Uninitialized, Initialized, Ready)
	if err != nil {
		return err
	}
	defer s.op.Unlock()
	if prev == Uninitialized {
		s.setState(Shutdown)
		return nil
	}
	err = errors.Join(s.light.Stop(), s.closeDevices())
	s.setState(Shutdown)
	return err
}
