package simulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"godetect/domain/scenario"
	"godetect/domain/signal"
)

// DefaultScenario is a two-channel, eight-bin mid-infrared observation with one
// planet placed on a point of the default 21 x 21 grid.
func DefaultScenario() scenario.Scenario {
	wavelengths := make([]float64, 8)
	widths := make([]float64, 8)
	for i := range wavelengths {
		wavelengths[i] = 4e-6 + 2e-6*float64(i)
		widths[i] = 2e-6
	}
	white := make([]float64, len(wavelengths))
	flux := make([]float64, len(wavelengths))
	for i := range white {
		white[i] = 10
		flux[i] = 8 + 0.5*float64(i)
	}
	return scenario.Scenario{
		Instrument: scenario.Instrument{
			Name:             "synthetic-nuller",
			Channels:         2,
			Baseline:         20,
			Wavelengths:      wavelengths,
			WavelengthWidths: widths,
			FieldOfView:      1e-6,
		},
		Observation: scenario.Observation{
			Duration:         36000,
			TimeSteps:        200,
			ModulationPeriod: 36000,
		},
		Scene: scenario.Scene{
			StellarLeakage:  5,
			WhiteNoise:      white,
			HasPlanetSignal: true,
			Planets: []scenario.Planet{{
				Name:     "Earth",
				Position: signal.Position{X: -3.5e-7, Y: 2e-7},
				Flux:     flux,
			}},
		},
	}
}

// LoadScenario reads a YAML scenario file. Missing sections keep the defaults.
func LoadScenario(path string) (scenario.Scenario, error) {
	sc := DefaultScenario()
	raw, err := os.ReadFile(path)
	if err != nil {
		return sc, fmt.Errorf("read scenario %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return sc, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}
