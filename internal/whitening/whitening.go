// Package whitening applies per-channel whitening operators to count series and
// template banks. Data and templates are always whitened through Apply so that
// both pass through the same operator.
package whitening

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
)

// Apply whitens data and every template of bank with cov. A nil cov, or an
// identity covariance, returns the inputs unchanged (the unwhitened baseline).
// bank may be nil when only data needs whitening.
func Apply(cov *signal.Covariance, data *signal.CountSeries, bank *signal.TemplateBank) (*signal.CountSeries, *signal.TemplateBank, error) {
	if data == nil {
		return nil, nil, apperrors.InvalidInput("whitening requires data")
	}
	if cov == nil || cov.IsIdentity() {
		return data, bank, nil
	}

	white, err := ApplyModel(cov, data)
	if err != nil {
		return nil, nil, err
	}
	if bank == nil {
		return white, nil, nil
	}

	whiteBank, err := bank.Map(func(t signal.Template) (*signal.CountSeries, error) {
		return ApplyModel(cov, t.Response)
	})
	if err != nil {
		return nil, nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
	}
	return white, whiteBank, nil
}

// ApplyModel whitens a single series, channel by channel. It is used for model
// responses evaluated after the bank was built, such as optimizer trial points.
func ApplyModel(cov *signal.Covariance, series *signal.CountSeries) (*signal.CountSeries, error) {
	if cov == nil || cov.IsIdentity() {
		return series, nil
	}
	if err := check(cov, series); err != nil {
		return nil, err
	}

	out := make([]mat.Matrix, series.Channels())
	var g errgroup.Group
	for k := 0; k < series.Channels(); k++ {
		g.Go(func() error {
			out[k] = ApplyChannel(cov, k, series.Channel(k))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return signal.NewCountSeries(out)
}

// ApplyChannel left-multiplies one wavelength x time block by the operator of channel k
func ApplyChannel(cov *signal.Covariance, k int, block mat.Matrix) *mat.Dense {
	var out mat.Dense
	if cov == nil || cov.IsIdentity() {
		out.CloneFrom(block)
		return &out
	}
	out.Mul(cov.Operator(k), block)
	return &out
}

func check(cov *signal.Covariance, series *signal.CountSeries) error {
	if series == nil {
		return apperrors.InvalidInput("whitening requires a series")
	}
	if cov.Channels() != series.Channels() {
		return apperrors.WithCode(apperrors.CodeShapeMismatch,
			core.NewShapeError("channel", cov.Channels(), series.Channels()))
	}
	if cov.Size() != series.Wavelengths() {
		return apperrors.WithCode(apperrors.CodeShapeMismatch,
			fmt.Errorf("operator of size %d cannot whiten %d wavelength bins: %w", cov.Size(), series.Wavelengths(), core.ErrShapeMismatch))
	}
	return nil
}
