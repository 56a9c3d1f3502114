package main

import (
	"encoding/json"
	"log"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/nasa-jpl/ramanlab/acquisition"
	"github.com/nasa-jpl/ramanlab/calibration"
	"github.com/nasa-jpl/ramanlab/camera"
	"github.com/nasa-jpl/ramanlab/camera/usblc"
	"github.com/nasa-jpl/ramanlab/cobolt"
	"github.com/nasa-jpl/ramanlab/conditioning"
	"github.com/nasa-jpl/ramanlab/generichttp"
	camhttp "github.com/nasa-jpl/ramanlab/generichttp/camera"
	"github.com/nasa-jpl/ramanlab/generichttp/laser"
	"github.com/nasa-jpl/ramanlab/server/middleware/locker"
	"github.com/nasa-jpl/ramanlab/session"
	"github.com/nasa-jpl/ramanlab/specrec"
	"github.com/nasa-jpl/ramanlab/store"
)

// LaserSetup describes how the laser is reached
type LaserSetup struct {
	// Addr holds the network or filesystem address of the laser,
	// e.g. 192.168.100.123:2006 for a digi portserver, or /dev/ttyUSB0
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Baud overrides the default baud rate of the serial port when nonzero
	Baud int `koanf:"Baud" yaml:"Baud"`
}

// SensorSetup describes the line CCD
type SensorSetup struct {
	// Index is the USB device index
	Index int `koanf:"Index" yaml:"Index"`

	// Pixels is the frame length of the simulated sensor
	Pixels int `koanf:"Pixels" yaml:"Pixels"`
}

// Timing holds the delays of the acquisition
type Timing struct {
	// Settle is how long the laser is given to stabilize after a change
	Settle time.Duration `koanf:"Settle" yaml:"Settle"`

	// MaxFrameRate caps the capture rate in Hz, zero disables the cap
	MaxFrameRate float64 `koanf:"MaxFrameRate" yaml:"MaxFrameRate"`
}

// CalibrationSetup holds the reference sample and the fit
type CalibrationSetup struct {
	Threshold float64            `koanf:"Threshold" yaml:"Threshold"`
	Degree    int                `koanf:"Degree" yaml:"Degree"`
	Guess     []float64          `koanf:"Guess" yaml:"Guess"`
	Model     []calibration.Line `koanf:"Model" yaml:"Model"`
}

// Pipelines are the conditioning applied to calibration and sample spectra
type Pipelines struct {
	Calibration conditioning.Pipeline `koanf:"Calibration" yaml:"Calibration"`
	Sample      conditioning.Pipeline `koanf:"Sample" yaml:"Sample"`
}

// ArchiveSetup configures the sqlite history
type ArchiveSetup struct {
	// Path is the database file, empty disables the history
	Path string `koanf:"Path" yaml:"Path"`
}

// RecorderSetup configures the FITS recorder
type RecorderSetup struct {
	Root         string `koanf:"Root" yaml:"Root"`
	Prefix       string `koanf:"Prefix" yaml:"Prefix"`
	Enabled      bool   `koanf:"Enabled" yaml:"Enabled"`
	Calibrations bool   `koanf:"Calibrations" yaml:"Calibrations"`
}

// Config is a struct that holds the initialization parameters of the
// spectrometer.  It is populated by koanf.
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock simulates the laser and the sensor
	Mock bool `koanf:"Mock" yaml:"Mock"`

	Laser       LaserSetup         `koanf:"Laser" yaml:"Laser"`
	Sensor      SensorSetup        `koanf:"Sensor" yaml:"Sensor"`
	Limits      acquisition.Limits `koanf:"Limits" yaml:"Limits"`
	Timing      Timing             `koanf:"Timing" yaml:"Timing"`
	Averages    int                `koanf:"Averages" yaml:"Averages"`
	Calibration CalibrationSetup   `koanf:"Calibration" yaml:"Calibration"`
	Pipelines   Pipelines          `koanf:"Pipelines" yaml:"Pipelines"`
	Archive     ArchiveSetup       `koanf:"Archive" yaml:"Archive"`
	Recorder    RecorderSetup      `koanf:"Recorder" yaml:"Recorder"`
}

// DefaultConfig is the configuration of the reference instrument
func DefaultConfig() Config {
	acq := acquisition.DefaultConfig()
	return Config{
		Addr:     ":8000",
		Laser:    LaserSetup{Addr: "/dev/ttyUSB0", Serial: true},
		Sensor:   SensorSetup{Pixels: camera.DefaultPixels},
		Limits:   acq.Limits,
		Timing:   Timing{Settle: acq.Settle},
		Averages: acq.Averages,
		Calibration: CalibrationSetup{
			Threshold: calibration.DefaultThreshold,
			Degree:    calibration.DefaultDegree,
			Guess:     calibration.DefaultGuess().Coeffs,
			Model:     calibration.DefaultModel(),
		},
		Pipelines: Pipelines{
			Calibration: conditioning.CalibrationPipeline(),
			Sample:      conditioning.SamplePipeline(),
		},
		Recorder: RecorderSetup{Root: "spectra", Prefix: "raman"},
	}
}

// SessionConfig converts the file configuration to a session configuration
func (c Config) SessionConfig() session.Config {
	return session.Config{
		Acquisition: acquisition.Config{
			Limits:       c.Limits,
			Averages:     c.Averages,
			Settle:       c.Timing.Settle,
			MaxFrameRate: c.Timing.MaxFrameRate,
		},
		LaserPort:           c.Laser.Addr,
		SensorIndex:         c.Sensor.Index,
		Model:               c.Calibration.Model,
		Guess:               calibration.Parameters{Coeffs: c.Calibration.Guess},
		Threshold:           c.Calibration.Threshold,
		Degree:              c.Calibration.Degree,
		CalibrationPipeline: c.Pipelines.Calibration,
		SamplePipeline:      c.Pipelines.Sample,
		Logger:              log.New(os.Stderr, "session: ", log.LstdFlags),
	}
}

// simLines places the lines of model where guess maps them onto the first
// n pixels.  Lines guess does not reach are left out.
func simLines(model calibration.PeakModel, guess calibration.Parameters, n int) []camera.SimLine {
	var out []camera.SimLine
	for _, l := range model {
		best, bestErr := -1, math.Inf(1)
		for px := 0; px < n; px++ {
			e := math.Abs(guess.Wavenumber(float64(px)) - l.Wavenumber)
			if e < bestErr {
				best, bestErr = px, e
			}
		}
		// further than a couple of pixels means the line is off the sensor
		if best < 0 || bestErr > 2*math.Abs(guess.Wavenumber(float64(best+1))-guess.Wavenumber(float64(best))) {
			continue
		}
		out = append(out, camera.SimLine{Pixel: float64(best), Sigma: 5, Rate: 60 * l.Height})
	}
	return out
}

// Instrument is the hardware and the services built on it
type Instrument struct {
	Light    laser.Source
	Sensor   camera.LineSensor
	Session  *session.Session
	Recorder *specrec.Recorder
	Store    *store.Store
}

// Build makes the devices, the archives and the session of c
func Build(c Config) (*Instrument, error) {
	inst := &Instrument{}
	if c.Mock {
		m := cobolt.NewMock()
		sim := camera.NewSimulated(m)
		if c.Sensor.Pixels > 0 {
			sim.NPixels = c.Sensor.Pixels
		}
		sim.Lines = simLines(c.Calibration.Model, calibration.Parameters{Coeffs: c.Calibration.Guess}, sim.NPixels)
		if len(sim.Lines) < len(c.Calibration.Model) {
			log.Printf("mock sensor shows %d of the %d model lines", len(sim.Lines), len(c.Calibration.Model))
		}
		inst.Light, inst.Sensor = m, sim
	} else {
		l := cobolt.NewLaser(c.Laser.Addr, c.Laser.Serial)
		if c.Laser.Baud != 0 && l.SerialConf != nil {
			l.SerialConf.Baud = c.Laser.Baud
		}
		inst.Light, inst.Sensor = l, usblc.NewSensor()
	}

	scfg := c.SessionConfig()
	inst.Recorder = specrec.NewRecorder(c.Recorder.Root, c.Recorder.Prefix)
	inst.Recorder.Enabled = c.Recorder.Enabled
	scfg.Archives = append(scfg.Archives, session.FITSArchive{Rec: inst.Recorder, Calibrations: c.Recorder.Calibrations})
	if c.Archive.Path != "" {
		st, err := store.Open(c.Archive.Path)
		if err != nil {
			return nil, err
		}
		inst.Store = st
		scfg.Archives = append(scfg.Archives, st)
	}
	s, err := session.New(inst.Sensor, inst.Light, scfg)
	if err != nil {
		inst.Close()
		return nil, err
	}
	inst.Session = s
	return inst, nil
}

// Close releases the archive
func (i *Instrument) Close() error {
	var err error
	if i.Store != nil {
		err = i.Store.Close()
	}
	return err
}

// BuildMux mounts the session, the laser and the sensor under
// /spectrometer, /laser and /sensor, each with its own lock.
// The mux serves a special route, /endpoints, which returns a
// map of mount points to routes as JSON.
func BuildMux(c Config, inst *Instrument) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	spectro := session.NewHTTPWrapper(inst.Session)
	specrec.NewHTTPWrapper(inst.Recorder).Inject(spectro)
	if inst.Store != nil {
		store.NewHTTPWrapper(inst.Store).Inject(spectro)
	}
	nodes := []struct {
		endpoint string
		httper   generichttp.HTTPer
	}{
		{"spectrometer", spectro},
		{"laser", laser.NewHTTPLaserController(inst.Light)},
		{"sensor", camhttp.NewHTTPSensor(inst.Sensor)},
	}
	for _, node := range nodes {
		// prepare the URL, "laser" => "/laser"
		hndlS := generichttp.SubMuxSanitize(node.endpoint)
		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(node.httper, lock)
		// add the endpoints to the graph
		supergraph[hndlS] = node.httper.RT().Endpoints()
		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		node.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
