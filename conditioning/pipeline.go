package conditioning

import (
	"fmt"
	"strings"
)

// StepKind is the family of a pipeline step
type StepKind string

const (
	// StepSmooth runs Smooth
	StepSmooth StepKind = "smooth"

	// StepBaseline runs RemoveBaseline
	StepBaseline StepKind = "baseline"
)

// Step is one stage of a Pipeline.  Window is used by smoothing steps and
// Params by baseline steps.
type Step struct {
	Kind   StepKind  `koanf:"Kind" yaml:"Kind"`
	Method string    `koanf:"Method" yaml:"Method"`
	Window int       `koanf:"Window" yaml:"Window,omitempty"`
	Params []float64 `koanf:"Params" yaml:"Params,omitempty"`
}

// String satisfies fmt.Stringer
func (s Step) String() string {
	if s.Kind == StepSmooth {
		return fmt.Sprintf("%s(%d)", s.Method, s.Window)
	}
	return fmt.Sprintf("%s%v", s.Method, s.Params)
}

// Pipeline is an ordered list of conditioning steps
type Pipeline []Step

// CalibrationPipeline is applied to the spectrum of the reference sample
// before peak matching
func CalibrationPipeline() Pipeline {
	return Pipeline{
		{Kind: StepSmooth, Method: string(Median), Window: 7},
		{Kind: StepBaseline, Method: string(AsLS), Params: []float64{1e5, 0.05}},
	}
}

// SamplePipeline is applied to every sample spectrum
func SamplePipeline() Pipeline {
	return Pipeline{
		{Kind: StepSmooth, Method: string(Median), Window: 7},
		{Kind: StepSmooth, Method: string(Gaussian), Window: 5},
		{Kind: StepBaseline, Method: string(AsLS), Params: []float64{1e5, 0.05}},
	}
}

// Validate checks every method name and parameter set without touching data
func (p Pipeline) Validate() error {
	for i, s := range p {
		if err := s.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch StepKind(strings.ToLower(string(s.Kind))) {
	case StepSmooth:
		m, err := ParseSmoothMethod(s.Method)
		if err != nil {
			return err
		}
		return checkWindow(m, s.Window)
	case StepBaseline:
		m, err := ParseBaselineMethod(s.Method)
		if err != nil {
			return err
		}
		return checkBaselineParams(m, s.Params)
	}
	return &UnsupportedMethodError{Kind: "pipeline step", Name: string(s.Kind)}
}

// Apply runs each step in order.  x is not modified.
func (p Pipeline) Apply(x []float64) ([]float64, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	y := append([]float64(nil), x...)
	for i, s := range p {
		var err error
		if StepKind(strings.ToLower(string(s.Kind))) == StepSmooth {
			y, err = Smooth(y, s.Window, SmoothMethod(s.Method))
		} else {
			y, err = RemoveBaseline(y, s.Params, BaselineMethod(s.Method))
		}
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, s, err)
		}
	}
	return y, nil
}
