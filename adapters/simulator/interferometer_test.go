package simulator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"godetect/domain/core"
	"godetect/domain/signal"
)

func TestInterferometer_TemplateIsLinearInFlux(t *testing.T) {
	sc := DefaultScenario()
	sim, err := NewInterferometer(sc)
	require.NoError(t, err)

	axes := sc.Axes()
	ones := make([]float64, len(axes.Wavelengths))
	twos := make([]float64, len(axes.Wavelengths))
	for i := range ones {
		ones[i], twos[i] = 1, 2
	}
	pos := signal.Position{X: 1e-7, Y: -2e-7}

	unit, err := sim.TemplateResponse(context.Background(), axes, pos, ones)
	require.NoError(t, err)
	double, err := sim.TemplateResponse(context.Background(), axes, pos, twos)
	require.NoError(t, err)

	require.NoError(t, unit.CheckAxes(axes))
	for k := 0; k < axes.Channels; k++ {
		u := unit.Flatten(k)
		floats.Scale(2, u)
		assert.True(t, floats.EqualApprox(u, double.Flatten(k), 1e-12))
	}
}

func TestInterferometer_NullOnAxis(t *testing.T) {
	sc := DefaultScenario()
	sim, err := NewInterferometer(sc)
	require.NoError(t, err)

	axes := sc.Axes()
	flux := make([]float64, len(axes.Wavelengths))
	for i := range flux {
		flux[i] = 1
	}
	resp, err := sim.TemplateResponse(context.Background(), axes, signal.Position{}, flux)
	require.NoError(t, err)
	assert.Equal(t, 0.0, floats.Norm(resp.Flatten(0), 2))
}

func TestInterferometer_SimulateDeterministicPerSeed(t *testing.T) {
	sc := DefaultScenario()
	sim, err := NewInterferometer(sc)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := sim.Simulate(ctx, sc, 7)
	require.NoError(t, err)
	b, err := sim.Simulate(ctx, sc, 7)
	require.NoError(t, err)
	c, err := sim.Simulate(ctx, sc, 8)
	require.NoError(t, err)

	assert.Equal(t, a.Flatten(1), b.Flatten(1))
	assert.NotEqual(t, a.Flatten(1), c.Flatten(1))
}

func TestInterferometer_PlanetSwitch(t *testing.T) {
	sc := DefaultScenario()
	sc.Scene.StellarLeakage = 0
	sc.Scene.WhiteNoise = make([]float64, len(sc.Instrument.Wavelengths))
	sim, err := NewInterferometer(sc)
	require.NoError(t, err)
	ctx := context.Background()

	with, err := sim.Simulate(ctx, sc, 1)
	require.NoError(t, err)
	without, err := sim.Simulate(ctx, sc.WithoutPlanetSignal(), 1)
	require.NoError(t, err)

	assert.Greater(t, floats.Norm(with.Flatten(0), 2), 0.0)
	assert.Equal(t, 0.0, floats.Norm(without.Flatten(0), 2))
}

func TestInterferometer_RejectsWrongShapes(t *testing.T) {
	sc := DefaultScenario()
	sim, err := NewInterferometer(sc)
	require.NoError(t, err)

	axes := sc.Axes()
	_, err = sim.TemplateResponse(context.Background(), axes, signal.Position{}, []float64{1})
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))

	axes.Channels = 3
	_, err = sim.TemplateResponse(context.Background(), axes, signal.Position{}, make([]float64, len(axes.Wavelengths)))
	assert.True(t, errors.Is(err, core.ErrShapeMismatch))
}

func TestLoadScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	content := `
observation:
  duration: 1000
  time_steps: 50
  modulation_period: 1000
scene:
  stellar_leakage: 0
  has_planet_signal: false
  planets: []
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, 50, sc.Observation.TimeSteps)
	assert.False(t, sc.Scene.HasPlanetSignal)
	assert.Equal(t, 2, sc.Instrument.Channels, "unspecified sections keep defaults")

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
