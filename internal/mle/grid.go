// Package mle estimates planet position and per-wavelength flux by maximum
// likelihood, first on the template grid and then by continuous refinement.
package mle

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"godetect/domain/core"
	"godetect/domain/signal"
	"godetect/internal"
	apperrors "godetect/internal/errors"
)

// SingularPolicy decides what happens to a wavelength bin whose normalisation
// B = Σ t²/σ² is zero or non-finite.
type SingularPolicy string

const (
	// SingularSubstitute replaces B with a fixed value and keeps the bin.
	SingularSubstitute SingularPolicy = "substitute"
	// SingularReject drops the bin: zero flux, zero cost contribution.
	SingularReject SingularPolicy = "reject"
)

// ParseSingularPolicy maps a configuration string onto a policy
func ParseSingularPolicy(s string) (SingularPolicy, error) {
	switch p := SingularPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SingularSubstitute, SingularReject:
		return p, nil
	case "":
		return SingularSubstitute, nil
	default:
		return "", apperrors.ConfigInvalid(fmt.Sprintf("unknown singular policy %q", s))
	}
}

// DefaultSubstituteValue is the singular-bin normalisation used when none is set
const DefaultSubstituteValue = 1.0

// GridOptions controls the grid search
type GridOptions struct {
	Policy SingularPolicy
	// SubstituteValue is the B used under SingularSubstitute. Nil selects
	// DefaultSubstituteValue; a set value must be positive.
	SubstituteValue *float64
	Workers         int
	// AtPosition, when set, reports the estimate at the grid point nearest to
	// this position instead of at the cost maximum.
	AtPosition *signal.Position
}

// GridResult holds the per-channel cost maps, the flux estimated at every grid
// point and the estimate selected for each channel.
type GridResult struct {
	CostMaps []signal.CostMap
	// Fluxes[k][ix*N+iy] is the flux vector of channel k at grid point (ix, iy).
	Fluxes [][][]float64
	Best   []signal.FluxEstimate
}

// GridEstimator evaluates the closed-form likelihood at every template
type GridEstimator struct {
	opts   GridOptions
	logger *internal.Logger
}

// NewGridEstimator creates a grid estimator
func NewGridEstimator(opts GridOptions) *GridEstimator {
	if opts.Policy == "" {
		opts.Policy = SingularSubstitute
	}
	if opts.SubstituteValue == nil {
		v := DefaultSubstituteValue
		opts.SubstituteValue = &v
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &GridEstimator{opts: opts, logger: internal.DefaultLogger.Component("GridMLE")}
}

// Estimate computes, for every channel and grid point, the per-wavelength flux
// C/B clamped at zero and the cost Σ flux·C, then selects the grid point with
// the largest cost. Ties go to the first point in row-major order.
func (e *GridEstimator) Estimate(ctx context.Context, data *signal.CountSeries, bank *signal.TemplateBank) (*GridResult, error) {
	if data == nil || bank == nil {
		return nil, apperrors.InvalidInput("grid estimation requires data and a template bank")
	}
	if v := *e.opts.SubstituteValue; e.opts.Policy == SingularSubstitute && !(v > 0) {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("substitute value must be positive, got %g", v))
	}
	if !bank.Complete() {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: bank has %d of %d templates", core.ErrMissingTemplate, bank.Len(), bank.Size()*bank.Size()))
	}

	nCh, nWl := data.Channels(), data.Wavelengths()
	rows := make([][][]float64, nCh)
	variance := make([][]float64, nCh)
	for k := 0; k < nCh; k++ {
		rows[k] = make([][]float64, nWl)
		variance[k] = make([]float64, nWl)
		for i := 0; i < nWl; i++ {
			rows[k][i] = data.Row(k, i)
			v, err := stats.SampleVariance(rows[k][i])
			if err != nil {
				v = math.NaN()
			}
			variance[k][i] = v
		}
	}

	templates := bank.Templates()
	n := bank.Size()
	result := &GridResult{
		CostMaps: make([]signal.CostMap, nCh),
		Fluxes:   make([][][]float64, nCh),
	}
	for k := 0; k < nCh; k++ {
		result.CostMaps[k] = signal.NewCostMap(k, n)
		result.Fluxes[k] = make([][]float64, n*n)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)
	for _, tpl := range templates {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if !tpl.Response.SameShape(data) {
				return apperrors.WithCode(apperrors.CodeShapeMismatch,
					fmt.Errorf("template (%d, %d): %w", tpl.Index.IX, tpl.Index.IY, core.ErrShapeMismatch))
			}
			slot := tpl.Index.IX*n + tpl.Index.IY
			for k := 0; k < nCh; k++ {
				flux := make([]float64, nWl)
				var cost float64
				for i := 0; i < nWl; i++ {
					t := tpl.Response.Row(k, i)
					f, term := e.binLikelihood(rows[k][i], t, variance[k][i])
					flux[i] = f
					cost += term
				}
				result.Fluxes[k][slot] = flux
				result.CostMaps[k].Values[slot] = cost
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	result.Best = make([]signal.FluxEstimate, nCh)
	for k := 0; k < nCh; k++ {
		idx, cost := result.CostMaps[k].ArgMax()
		if e.opts.AtPosition != nil {
			idx = nearestIndex(templates, *e.opts.AtPosition)
			cost = result.CostMaps[k].At(idx.IX, idx.IY)
		}
		tpl, err := bank.At(idx.IX, idx.IY)
		if err != nil {
			return nil, err
		}
		result.Best[k] = signal.FluxEstimate{
			Channel:   k,
			Method:    signal.MethodGrid,
			Index:     idx,
			Position:  tpl.Position,
			Flux:      append([]float64(nil), result.Fluxes[k][idx.IX*n+idx.IY]...),
			Converged: true,
			Cost:      cost,
		}
		e.logger.Debug("channel %d: maximum %.4g at (%d, %d)", k, cost, idx.IX, idx.IY)
	}
	return result, nil
}

// binLikelihood returns the clamped flux and the cost contribution of one
// wavelength bin for data row d, template row t and noise variance v.
func (e *GridEstimator) binLikelihood(d, t []float64, v float64) (flux, term float64) {
	c := floats.Dot(d, t) / v
	if !finite(c) {
		c = 0
	}
	b := floats.Dot(t, t) / v
	if b == 0 || !finite(b) {
		if e.opts.Policy == SingularReject {
			return 0, 0
		}
		b = *e.opts.SubstituteValue
	}
	flux = c / b
	if !(flux > 0) || math.IsInf(flux, 0) {
		flux = 0
	}
	term = flux * c
	if !finite(term) {
		term = 0
	}
	return flux, term
}

func nearestIndex(templates []signal.Template, p signal.Position) signal.GridIndex {
	best := templates[0].Index
	bestDist := math.Inf(1)
	for _, t := range templates {
		d := math.Hypot(t.Position.X-p.X, t.Position.Y-p.Y)
		if d < bestDist {
			best, bestDist = t.Index, d
		}
	}
	return best
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
