package ports

import (
	"context"

	"godetect/domain/scenario"
	"godetect/domain/signal"
)

// SimulatorPort is the instrument/scene simulator consumed by the detection chain.
// Returned series must match the axes of the configuration that produced them.
type SimulatorPort interface {
	// Simulate draws one realization of differential counts for the scenario
	Simulate(ctx context.Context, sc scenario.Scenario, seed int64) (*signal.CountSeries, error)

	// TemplateResponse returns the noiseless response to a point source at pos
	// with the given per-wavelength flux on the supplied time/wavelength grid
	TemplateResponse(ctx context.Context, axes signal.Axes, pos signal.Position, flux []float64) (*signal.CountSeries, error)

	// FieldOfView is the largest full angular extent the simulator models
	FieldOfView() float64
}
