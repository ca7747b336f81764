package hypothesis

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
)

// MatchedFilterMap returns, per channel, d·m/‖m‖ for every template m of the
// bank. Data and bank must have been whitened together. Zero templates map to 0.
func MatchedFilterMap(ctx context.Context, data *signal.CountSeries, bank *signal.TemplateBank) ([]signal.CostMap, error) {
	return gridMap(ctx, data, bank, func(d, m []float64, dNorm float64) float64 {
		mNorm := floats.Norm(m, 2)
		if mNorm == 0 {
			return 0
		}
		return floats.Dot(d, m) / mNorm
	})
}

// CorrelationMap returns, per channel, the normalised correlation
// d·m/(‖d‖‖m‖) in [-1, 1] for every template of the bank.
func CorrelationMap(ctx context.Context, data *signal.CountSeries, bank *signal.TemplateBank) ([]signal.CostMap, error) {
	return gridMap(ctx, data, bank, func(d, m []float64, dNorm float64) float64 {
		denom := dNorm * floats.Norm(m, 2)
		if denom == 0 {
			return 0
		}
		return floats.Dot(d, m) / denom
	})
}

func gridMap(ctx context.Context, data *signal.CountSeries, bank *signal.TemplateBank, score func(d, m []float64, dNorm float64) float64) ([]signal.CostMap, error) {
	if data == nil || bank == nil {
		return nil, apperrors.InvalidInput("detection map requires data and a template bank")
	}
	if !bank.Complete() {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: bank has %d of %d templates", core.ErrMissingTemplate, bank.Len(), bank.Size()*bank.Size()))
	}

	nCh, n := data.Channels(), bank.Size()
	flat := make([][]float64, nCh)
	norms := make([]float64, nCh)
	maps := make([]signal.CostMap, nCh)
	for k := 0; k < nCh; k++ {
		flat[k] = data.Flatten(k)
		norms[k] = floats.Norm(flat[k], 2)
		maps[k] = signal.NewCostMap(k, n)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, tpl := range bank.Templates() {
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
				v := score(flat[k], tpl.Response.Flatten(k), norms[k])
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = 0
				}
				maps[k].Values[slot] = v
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return maps, nil
}
