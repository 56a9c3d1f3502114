package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ramansrv.yml"

	// EnvPrefix prefixes environment variables that override the config
	// file, e.g. RAMAN_LASER_ADDR
	EnvPrefix = "RAMAN_"

	k = koanf.New(".")
)

// envKey maps RAMAN_LIMITS_MAXPOWER to the config key Limits.MaxPower
func envKey(s string) string {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "_", "."))
	for _, known := range k.Keys() {
		if strings.ToLower(known) == key {
			return known
		}
	}
	return key
}

func setupconfig() {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Fatalf("error loading environment: %v", err)
	}
}

func loadConfig() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `ramansrv controls a Raman spectrometer (a laser and a line CCD) and exposes
an HTTP interface to it.  It calibrates the wavenumber axis against a
reference sample and acquires conditioned spectra.

Usage:
	ramansrv <command>

Commands:
	run
	measure [n]
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ramansrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Any key may be overridden by an environment variable prefixed with RAMAN_,
with _ between levels, e.g. RAMAN_LASER_ADDR=/dev/ttyUSB1 or
RAMAN_LIMITS_MAXPOWER=0.1.

With Mock: true the laser and the CCD are simulated; the simulated sample
shows the lines of Calibration.Model where Calibration.Guess places them.

run serves
	/spectrometer	initialize, calibrate, acquire, shutdown, state, spectra
	/laser		read-only laser status
	/sensor		read-only CCD status
	/endpoints	the list of routes

measure initializes, calibrates, acquires n samples (default 1) writing
each to a FITS file under Recorder.Root, and shuts down.

Pipelines are lists of steps, e.g.
	- Kind: smooth
	  Method: median
	  Window: 7
	- Kind: baseline
	  Method: asls
	  Params: [100000, 0.05]
smoothing methods are median, gaussian and avg; baseline methods are asls
(lambda, p, iterations), polysub (degree) and bandpass (sigma lo, sigma hi).`
	fmt.Println(str)
}

func mkconf() {
	c := loadConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ramansrv version %v\n", Version)
}

func run() {
	c := loadConfig()
	inst, err := Build(c)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Close()
	mux := BuildMux(c, inst)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func measure(n int) {
	c := loadConfig()
	c.Recorder.Enabled = true
	inst, err := Build(c)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		StopCharacter:     "done",
		StopFailCharacter: "failed",
	})
	if err != nil {
		log.Fatal(err)
	}
	fail := func(err error) {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		inst.Session.Shutdown(context.Background())
		os.Exit(1)
	}
	spinner.Start()

	spinner.Message("initializing")
	if err := inst.Session.Initialize(ctx); err != nil {
		fail(err)
	}
	spinner.Message("calibrating")
	cal, err := inst.Session.Calibrate(ctx)
	if err != nil {
		fail(err)
	}
	spinner.Message(fmt.Sprintf("calibrated at %s, coefficients %v",
		humanize.SIWithDigits(cal.IntegrationTime*1e-6, 3, "s"), cal.Parameters.Coeffs))
	for i := 0; i < n; i++ {
		spinner.Message(fmt.Sprintf("sample %d of %d", i+1, n))
		smp, err := inst.Session.AcquireSample(ctx)
		if err != nil {
			fail(err)
		}
		spinner.Message(fmt.Sprintf("sample %d at %s, %s", i+1,
			humanize.SIWithDigits(smp.Power, 3, "W"),
			humanize.SIWithDigits(smp.IntegrationTime*1e-6, 3, "s")))
	}
	if err := inst.Session.Shutdown(ctx); err != nil {
		fail(err)
	}
	spinner.StopMessage(fmt.Sprintf("%d spectra written under %s", n, c.Recorder.Root))
	spinner.Stop()
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "measure":
		n := 1
		if len(args) > 2 {
			var err error
			n, err = strconv.Atoi(args[2])
			if err != nil || n < 1 {
				log.Fatal("measure takes a positive number of samples")
			}
		}
		measure(n)
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
