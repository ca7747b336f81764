// Package hypothesis decides between "noise only" and "noise plus planet" on
// whitened data, and builds matched-filter detection maps.
package hypothesis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
)

func checkPfa(pfa float64) error {
	if !(pfa > 0 && pfa < 1) {
		return apperrors.WithCode(apperrors.CodeConfigInvalid, fmt.Errorf("%w: Pfa %v", core.ErrInvalidProbability, pfa))
	}
	return nil
}

// EnergyThreshold returns ξ such that P(d·d/n > ξ) = pfa when d holds n
// independent unit-variance Gaussian samples, i.e. the (1-pfa) quantile of
// χ²_n divided by n.
func EnergyThreshold(n int, pfa float64) (float64, error) {
	if err := checkPfa(pfa); err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, apperrors.WithCode(apperrors.CodeShapeMismatch, fmt.Errorf("%w: %d samples", core.ErrEmptySeries, n))
	}
	return distuv.ChiSquared{K: float64(n)}.Quantile(1-pfa) / float64(n), nil
}

// EnergyDetectionProbability returns the probability that the energy detector
// fires when a signal of energy s·s is present. The scaled statistic then
// follows a non-central χ²_n(s·s)/n, whose survival function is evaluated as a
// Poisson mixture of central χ² survival functions.
func EnergyDetectionProbability(n int, pfa, signalEnergy float64) (float64, error) {
	xi, err := EnergyThreshold(n, pfa)
	if err != nil {
		return 0, err
	}
	x := xi * float64(n)
	if !(signalEnergy > 0) {
		return distuv.ChiSquared{K: float64(n)}.Survival(x), nil
	}

	half := signalEnergy / 2
	weights := distuv.Poisson{Lambda: half}
	last := int(half + 40*math.Sqrt(half) + 50)
	var pd, mass float64
	for j := 0; j <= last; j++ {
		w := weights.Prob(float64(j))
		if w == 0 {
			if float64(j) > half {
				break
			}
			continue
		}
		pd += w * distuv.ChiSquared{K: float64(n + 2*j)}.Survival(x)
		mass += w
		if mass > 1-1e-15 && float64(j) > half {
			break
		}
	}
	return math.Max(0, math.Min(1, pd)), nil
}

// EnergyDetector tests for any excess power in whitened data
type EnergyDetector struct {
	Pfa float64
}

// Test computes d·d/n for every channel and compares it with the χ² threshold
func (e EnergyDetector) Test(data *signal.CountSeries) ([]signal.TestStatistic, error) {
	if data == nil {
		return nil, apperrors.InvalidInput("energy detector requires data")
	}
	n := data.Wavelengths() * data.TimeSteps()
	xi, err := EnergyThreshold(n, e.Pfa)
	if err != nil {
		return nil, err
	}

	out := make([]signal.TestStatistic, data.Channels())
	for k := range out {
		d := data.Flatten(k)
		stat := floats.Dot(d, d) / float64(n)
		out[k] = signal.TestStatistic{
			Channel:          k,
			Kind:             signal.TestEnergyDetector,
			Statistic:        stat,
			Threshold:        xi,
			Pfa:              e.Pfa,
			DegreesOfFreedom: n,
			Detected:         stat > xi,
		}
	}
	return out, nil
}
