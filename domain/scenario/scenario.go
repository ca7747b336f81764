// Package scenario describes what a simulator is asked to observe: the
// instrument, the observation timing and the source scene.
package scenario

import (
	"fmt"

	"godetect/domain/core"
	"godetect/domain/signal"
)

// Instrument fixes the channel count and the spectral grid
type Instrument struct {
	Name             string    `yaml:"name" json:"name"`
	Channels         int       `yaml:"channels" json:"channels"`
	Baseline         float64   `yaml:"baseline" json:"baseline"`
	Wavelengths      []float64 `yaml:"wavelengths" json:"wavelengths"`
	WavelengthWidths []float64 `yaml:"wavelength_widths" json:"wavelength_widths"`
	// FieldOfView is the largest full angular extent the simulator can model.
	FieldOfView float64 `yaml:"field_of_view" json:"field_of_view"`
}

// Observation fixes the time grid
type Observation struct {
	Duration         float64 `yaml:"duration" json:"duration"`
	TimeSteps        int     `yaml:"time_steps" json:"time_steps"`
	ModulationPeriod float64 `yaml:"modulation_period" json:"modulation_period"`
}

// Times returns TimeSteps evenly spaced samples starting at zero
func (o Observation) Times() []float64 {
	out := make([]float64, o.TimeSteps)
	if o.TimeSteps == 0 {
		return out
	}
	dt := o.Duration / float64(o.TimeSteps)
	for i := range out {
		out[i] = float64(i) * dt
	}
	return out
}

// Planet is a point source with a per-wavelength flux
type Planet struct {
	Name     string          `yaml:"name" json:"name"`
	Position signal.Position `yaml:"position" json:"position"`
	Flux     []float64       `yaml:"flux" json:"flux"`
}

// Scene lists the sources and noise levels of one observation
type Scene struct {
	// StellarLeakage scales a common-mode term shared by all wavelength bins.
	StellarLeakage float64 `yaml:"stellar_leakage" json:"stellar_leakage"`
	// WhiteNoise is the per-bin standard deviation of uncorrelated noise.
	WhiteNoise      []float64 `yaml:"white_noise" json:"white_noise"`
	Planets         []Planet  `yaml:"planets" json:"planets"`
	HasPlanetSignal bool      `yaml:"has_planet_signal" json:"has_planet_signal"`
}

// Scenario bundles everything a simulator needs for one realization
type Scenario struct {
	Instrument  Instrument  `yaml:"instrument" json:"instrument"`
	Observation Observation `yaml:"observation" json:"observation"`
	Scene       Scene       `yaml:"scene" json:"scene"`
}

// Axes derives the count-series shape produced for this scenario
func (s Scenario) Axes() signal.Axes {
	return signal.Axes{
		Channels:         s.Instrument.Channels,
		Times:            s.Observation.Times(),
		Wavelengths:      append([]float64(nil), s.Instrument.Wavelengths...),
		WavelengthWidths: append([]float64(nil), s.Instrument.WavelengthWidths...),
	}
}

// WithoutPlanetSignal returns a copy of the scenario with every planet switched off.
// The receiver is left untouched.
func (s Scenario) WithoutPlanetSignal() Scenario {
	out := s
	out.Scene.Planets = append([]Planet(nil), s.Scene.Planets...)
	out.Scene.HasPlanetSignal = false
	return out
}

// Validate checks internal consistency
func (s Scenario) Validate() error {
	if err := s.Axes().Validate(); err != nil {
		return err
	}
	if s.Instrument.Baseline <= 0 {
		return fmt.Errorf("%w: baseline must be positive", core.ErrShapeMismatch)
	}
	if s.Instrument.FieldOfView <= 0 {
		return fmt.Errorf("%w: instrument field of view must be positive", core.ErrInvalidFieldOfView)
	}
	if n := len(s.Scene.WhiteNoise); n != 0 && n != len(s.Instrument.Wavelengths) {
		return core.NewShapeError("white noise", len(s.Instrument.Wavelengths), n)
	}
	for _, p := range s.Scene.Planets {
		if len(p.Flux) != len(s.Instrument.Wavelengths) {
			return core.NewShapeError(fmt.Sprintf("planet %q flux", p.Name), len(s.Instrument.Wavelengths), len(p.Flux))
		}
	}
	return nil
}
