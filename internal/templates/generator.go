// Package templates builds the bank of noiseless unit-flux point-source responses
// evaluated on a square grid across the field of view.
package templates

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"godetect/domain/core"
	"godetect/domain/signal"
	"godetect/internal"
	apperrors "godetect/internal/errors"
	"godetect/ports"
)

// Options controls template generation
type Options struct {
	// Workers bounds the number of grid points simulated concurrently.
	Workers int
}

// Generator evaluates simulator responses on a grid
type Generator struct {
	simulator ports.SimulatorPort
	workers   int
	logger    *internal.Logger
}

// NewGenerator creates a generator backed by sim
func NewGenerator(sim ports.SimulatorPort, opts Options) *Generator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Generator{
		simulator: sim,
		workers:   workers,
		logger:    internal.DefaultLogger.Component("Templates"),
	}
}

// Coordinates returns n evenly spaced coordinates spanning [-fov/2, fov/2].
// A single point sits on the optical axis.
func Coordinates(fov float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	if n == 1 {
		return out
	}
	return floats.Span(out, -fov/2, fov/2)
}

// Generate builds an n x n bank of unit-flux templates over fov on the given
// axes. A non-positive fov selects the simulator's full field of view; a fov
// larger than the simulator supports is rejected rather than clamped.
func (g *Generator) Generate(ctx context.Context, axes signal.Axes, fov float64, n int) (*signal.TemplateBank, error) {
	if n < 1 {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: grid size %d, need at least 1", core.ErrInvalidGrid, n))
	}
	if err := axes.Validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
	}
	limit := g.simulator.FieldOfView()
	switch {
	case math.IsNaN(fov) || math.IsInf(fov, 0):
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: %v", core.ErrInvalidFieldOfView, fov))
	case fov <= 0:
		fov = limit
	case fov > limit:
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: requested %g exceeds simulator maximum %g", core.ErrInvalidFieldOfView, fov, limit))
	}

	start := time.Now()
	coords := Coordinates(fov, n)
	unit := make([]float64, len(axes.Wavelengths))
	for i := range unit {
		unit[i] = 1
	}

	responses := make([]*signal.CountSeries, n*n)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for ix := 0; ix < n; ix++ {
		for iy := 0; iy < n; iy++ {
			slot := ix*n + iy
			pos := signal.Position{X: coords[ix], Y: coords[iy]}
			eg.Go(func() error {
				resp, err := g.simulator.TemplateResponse(egCtx, axes, pos, unit)
				if err != nil {
					return fmt.Errorf("template (%d, %d): %w", slot/n, slot%n, err)
				}
				if err := resp.CheckAxes(axes); err != nil {
					return apperrors.WithCode(apperrors.CodeShapeMismatch,
						fmt.Errorf("template (%d, %d): %w", slot/n, slot%n, err))
				}
				responses[slot] = resp
				return nil
			})
		}
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	bank, err := signal.NewTemplateBank(n, fov)
	if err != nil {
		return nil, err
	}
	for slot, resp := range responses {
		ix, iy := slot/n, slot%n
		t := signal.Template{
			Index:    signal.GridIndex{IX: ix, IY: iy},
			Position: signal.Position{X: coords[ix], Y: coords[iy]},
			Response: resp,
		}
		if err := bank.Add(t); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
		}
	}

	g.logger.Debug("built %dx%d bank over fov %g in %v", n, n, fov, time.Since(start))
	return bank, nil
}
