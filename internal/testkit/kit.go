// Package testkit provides small scenarios, a recording simulator and signal
// injection helpers for tests of the detection chain.
package testkit

import (
	"context"
	"fmt"
	"sync"

	"godetect/adapters/simulator"
	"godetect/domain/scenario"
	"godetect/domain/signal"
	"godetect/ports"
)

// TestKit bundles a scenario with the simulator that observes it
type TestKit struct {
	Scenario  scenario.Scenario
	Simulator *simulator.Interferometer
	Axes      signal.Axes
}

// NewTestKit creates a kit over sc
func NewTestKit(sc scenario.Scenario) (*TestKit, error) {
	sim, err := simulator.NewInterferometer(sc)
	if err != nil {
		return nil, err
	}
	return &TestKit{Scenario: sc, Simulator: sim, Axes: sc.Axes()}, nil
}

// SmallScenario is a reduced two-channel observation that keeps grid searches fast.
// The field of view is 1e-6 so a 5 x 5 grid has spacing 2.5e-7.
func SmallScenario() scenario.Scenario {
	sc := simulator.DefaultScenario()
	sc.Instrument.Wavelengths = []float64{4e-6, 7e-6, 10e-6, 13e-6}
	sc.Instrument.WavelengthWidths = []float64{3e-6, 3e-6, 3e-6, 3e-6}
	sc.Observation.TimeSteps = 60
	sc.Scene.WhiteNoise = []float64{1, 1, 1, 1}
	sc.Scene.StellarLeakage = 0.5
	sc.Scene.Planets = []scenario.Planet{{
		Name:     "injected",
		Position: signal.Position{X: 2.5e-7, Y: -2.5e-7},
		Flux:     ConstantFlux(4, 3),
	}}
	return sc
}

// ConstantFlux returns n copies of v
func ConstantFlux(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Noise draws one signal-free realization
func (k *TestKit) Noise(seed int64) (*signal.CountSeries, error) {
	return k.Simulator.Simulate(context.Background(), k.Scenario.WithoutPlanetSignal(), seed)
}

// Inject returns the noiseless response of a point source at pos
func (k *TestKit) Inject(pos signal.Position, flux []float64) (*signal.CountSeries, error) {
	return k.Simulator.TemplateResponse(context.Background(), k.Axes, pos, flux)
}

// InjectInto adds a point source at pos on top of base
func (k *TestKit) InjectInto(base *signal.CountSeries, pos signal.Position, flux []float64) (*signal.CountSeries, error) {
	src, err := k.Inject(pos, flux)
	if err != nil {
		return nil, err
	}
	return base.Add(src)
}

// RecordingSimulator wraps a simulator and records every Simulate call.
// SimulateFunc, when set, replaces the wrapped Simulate.
type RecordingSimulator struct {
	ports.SimulatorPort
	SimulateFunc func(ctx context.Context, sc scenario.Scenario, seed int64) (*signal.CountSeries, error)

	mu        sync.Mutex
	seeds     []int64
	scenarios []scenario.Scenario
}

// NewRecordingSimulator wraps inner
func NewRecordingSimulator(inner ports.SimulatorPort) *RecordingSimulator {
	return &RecordingSimulator{SimulatorPort: inner}
}

// Simulate records the call and delegates
func (r *RecordingSimulator) Simulate(ctx context.Context, sc scenario.Scenario, seed int64) (*signal.CountSeries, error) {
	r.mu.Lock()
	r.seeds = append(r.seeds, seed)
	r.scenarios = append(r.scenarios, sc)
	r.mu.Unlock()

	if r.SimulateFunc != nil {
		return r.SimulateFunc(ctx, sc, seed)
	}
	if r.SimulatorPort == nil {
		return nil, fmt.Errorf("recording simulator has nothing to delegate to")
	}
	return r.SimulatorPort.Simulate(ctx, sc, seed)
}

// Calls returns the number of Simulate calls so far
func (r *RecordingSimulator) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seeds)
}

// Seeds returns the seeds passed to Simulate, in call order
func (r *RecordingSimulator) Seeds() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seeds...)
}

// Scenarios returns the scenarios passed to Simulate, in call order
func (r *RecordingSimulator) Scenarios() []scenario.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scenario.Scenario(nil), r.scenarios...)
}

// ConstantSeries returns a realization whose every sample equals v; its
// covariance is exactly zero.
func ConstantSeries(axes signal.Axes, v float64) *signal.CountSeries {
	data := make([]float64, axes.Channels*axes.Samples())
	for i := range data {
		data[i] = v
	}
	series, err := signal.NewCountSeriesFromData(axes.Channels, len(axes.Wavelengths), len(axes.Times), data)
	if err != nil {
		panic(err)
	}
	return series
}
