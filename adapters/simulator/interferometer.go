// Package simulator provides a synthetic differential interferometer. It is a
// stand-in for a full instrument simulator: a rotating two-aperture nuller
// whose differential outputs respond as sin(2π B/λ · projected offset), plus
// white noise per bin and a common-mode stellar leakage term that correlates
// wavelength bins.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"godetect/domain/core"
	"godetect/domain/scenario"
	"godetect/domain/signal"
)

// Interferometer implements ports.SimulatorPort for one instrument and observation
type Interferometer struct {
	instrument scenario.Instrument
	period     float64
}

// NewInterferometer builds a simulator for the instrument and timing of sc
func NewInterferometer(sc scenario.Scenario) (*Interferometer, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	period := sc.Observation.ModulationPeriod
	if period <= 0 {
		period = sc.Observation.Duration
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: observation needs a positive duration or modulation period", core.ErrShapeMismatch)
	}
	return &Interferometer{instrument: sc.Instrument, period: period}, nil
}

// FieldOfView returns the instrument's maximum full field of view
func (s *Interferometer) FieldOfView() float64 {
	return s.instrument.FieldOfView
}

// TemplateResponse returns the noiseless differential counts of a point source
func (s *Interferometer) TemplateResponse(ctx context.Context, axes signal.Axes, pos signal.Position, flux []float64) (*signal.CountSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if axes.Channels != s.instrument.Channels {
		return nil, core.NewShapeError("channel", s.instrument.Channels, axes.Channels)
	}
	if len(flux) != len(axes.Wavelengths) {
		return nil, core.NewShapeError("flux", len(axes.Wavelengths), len(flux))
	}
	nWl, nT := len(axes.Wavelengths), len(axes.Times)
	data := make([]float64, axes.Channels*nWl*nT)
	s.addPointSource(data, axes, pos, flux)
	return signal.NewCountSeriesFromData(axes.Channels, nWl, nT, data)
}

// Simulate draws one noisy realization of the scenario
func (s *Interferometer) Simulate(ctx context.Context, sc scenario.Scenario, seed int64) (*signal.CountSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if sc.Instrument.Channels != s.instrument.Channels {
		return nil, core.NewShapeError("channel", s.instrument.Channels, sc.Instrument.Channels)
	}

	axes := sc.Axes()
	nCh, nWl, nT := axes.Channels, len(axes.Wavelengths), len(axes.Times)
	data := make([]float64, nCh*nWl*nT)
	rng := rand.New(rand.NewSource(seed))

	maxWl := 0.0
	for _, wl := range axes.Wavelengths {
		maxWl = math.Max(maxWl, wl)
	}

	for k := 0; k < nCh; k++ {
		for t := 0; t < nT; t++ {
			leak := sc.Scene.StellarLeakage * rng.NormFloat64()
			for i := 0; i < nWl; i++ {
				sigma := 1.0
				if len(sc.Scene.WhiteNoise) > 0 {
					sigma = sc.Scene.WhiteNoise[i]
				}
				data[(k*nWl+i)*nT+t] = leak*axes.Wavelengths[i]/maxWl + sigma*rng.NormFloat64()
			}
		}
	}

	if sc.Scene.HasPlanetSignal {
		for _, p := range sc.Scene.Planets {
			s.addPointSource(data, axes, p.Position, p.Flux)
		}
	}

	return signal.NewCountSeriesFromData(nCh, nWl, nT, data)
}

func (s *Interferometer) addPointSource(data []float64, axes signal.Axes, pos signal.Position, flux []float64) {
	nWl, nT := len(axes.Wavelengths), len(axes.Times)
	for k := 0; k < axes.Channels; k++ {
		phase := math.Pi * float64(k) / float64(axes.Channels)
		for t, tm := range axes.Times {
			theta := 2*math.Pi*tm/s.period + phase
			projected := pos.X*math.Cos(theta) + pos.Y*math.Sin(theta)
			for i, wl := range axes.Wavelengths {
				data[(k*nWl+i)*nT+t] += flux[i] * math.Sin(2*math.Pi*s.instrument.Baseline/wl*projected)
			}
		}
	}
}
