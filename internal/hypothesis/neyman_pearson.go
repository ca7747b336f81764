package hypothesis

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
	"godetect/internal/whitening"
	"godetect/ports"
)

// NullDistribution is the distribution of d·m under noise only, N(0, m·m)
func NullDistribution(modelEnergy float64) distuv.Normal {
	return distuv.Normal{Mu: 0, Sigma: math.Sqrt(modelEnergy)}
}

// AlternativeDistribution is the distribution of d·m when the model is present,
// N(m·m, m·m)
func AlternativeDistribution(modelEnergy float64) distuv.Normal {
	return distuv.Normal{Mu: modelEnergy, Sigma: math.Sqrt(modelEnergy)}
}

// NeymanPearsonThreshold returns ξ = sqrt(m·m)·Φ⁻¹(1-pfa). A zero-energy model
// has threshold zero and can never fire.
func NeymanPearsonThreshold(modelEnergy, pfa float64) (float64, error) {
	if err := checkPfa(pfa); err != nil {
		return 0, err
	}
	if modelEnergy < 0 || math.IsNaN(modelEnergy) || math.IsInf(modelEnergy, 0) {
		return 0, apperrors.InvalidInput(fmt.Sprintf("model energy %v", modelEnergy))
	}
	if modelEnergy == 0 {
		return 0, nil
	}
	return NullDistribution(modelEnergy).Quantile(1 - pfa), nil
}

// NeymanPearsonDetectionProbability returns 1 - Φ((ξ - m·m)/sqrt(m·m))
func NeymanPearsonDetectionProbability(modelEnergy, threshold float64) float64 {
	if !(modelEnergy > 0) {
		return 0
	}
	return AlternativeDistribution(modelEnergy).Survival(threshold)
}

// NeymanPearson is the matched-filter test against a known whitened model
type NeymanPearson struct {
	Pfa float64
	// Normalize divides both statistic and threshold by the sample count.
	Normalize bool
}

// Test computes d·m per channel, where channel k of models is the whitened
// model built from channel k's own estimate.
func (np NeymanPearson) Test(data, models *signal.CountSeries) ([]signal.TestStatistic, error) {
	if data == nil || models == nil {
		return nil, apperrors.InvalidInput("Neyman-Pearson test requires data and models")
	}
	if !data.SameShape(models) {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch,
			fmt.Errorf("%w: models do not match data", core.ErrShapeMismatch))
	}
	if err := checkPfa(np.Pfa); err != nil {
		return nil, err
	}

	n := data.Wavelengths() * data.TimeSteps()
	out := make([]signal.TestStatistic, data.Channels())
	for k := range out {
		d, m := data.Flatten(k), models.Flatten(k)
		energy := floats.Dot(m, m)
		stat := floats.Dot(d, m)
		xi, err := NeymanPearsonThreshold(energy, np.Pfa)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", k, err)
		}
		pd := NeymanPearsonDetectionProbability(energy, xi)
		if np.Normalize {
			stat /= float64(n)
			xi /= float64(n)
		}
		out[k] = signal.TestStatistic{
			Channel:              k,
			Kind:                 signal.TestNeymanPearson,
			Statistic:            stat,
			Threshold:            xi,
			Pfa:                  np.Pfa,
			DegreesOfFreedom:     n,
			ModelEnergy:          energy,
			Detected:             energy > 0 && stat > xi,
			DetectionProbability: pd,
		}
	}
	return out, nil
}

// Models evaluates the simulator at each channel's estimate and whitens the
// result with that channel's operator. Channel k of the returned series is the
// model for channel k.
func Models(ctx context.Context, sim ports.SimulatorPort, cov *signal.Covariance, axes signal.Axes, estimates []signal.FluxEstimate) (*signal.CountSeries, error) {
	if len(estimates) != axes.Channels {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, core.NewShapeError("estimate", axes.Channels, len(estimates)))
	}
	channels := make([]mat.Matrix, axes.Channels)
	for k, est := range estimates {
		resp, err := sim.TemplateResponse(ctx, axes, est.Position, est.Flux)
		if err != nil {
			return nil, fmt.Errorf("model for channel %d: %w", k, err)
		}
		if err := resp.CheckAxes(axes); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
		}
		channels[k] = whitening.ApplyChannel(cov, k, resp.Channel(k))
	}
	return signal.NewCountSeries(channels)
}
