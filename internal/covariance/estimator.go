package covariance

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
	"godetect/domain/scenario"
	"godetect/domain/signal"
	"godetect/internal"
	apperrors "godetect/internal/errors"
	"godetect/ports"
)

// DefaultMaxAttempts bounds the number of signal-free realizations drawn while
// looking for an invertible covariance.
const DefaultMaxAttempts = 10

// Options controls covariance estimation
type Options struct {
	DiagonalOnly bool
	MaxAttempts  int
	Timeout      time.Duration
	Tolerance    float64
}

// Estimator derives the per-channel noise covariance and whitening operator from
// signal-free simulator realizations.
type Estimator struct {
	simulator ports.SimulatorPort
	opts      Options
	logger    *internal.Logger
}

// NewEstimator creates an estimator backed by the given simulator
func NewEstimator(simulator ports.SimulatorPort, opts Options) *Estimator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	return &Estimator{
		simulator: simulator,
		opts:      opts,
		logger:    internal.DefaultLogger.Component("Covariance"),
	}
}

// Estimate draws signal-free realizations of sc until every channel yields an
// invertible covariance. Each attempt uses a fresh seed drawn from rng. After
// MaxAttempts singular draws, or when the timeout elapses, the failure is fatal.
func (e *Estimator) Estimate(ctx context.Context, sc scenario.Scenario, rng *rand.Rand) (*signal.Covariance, error) {
	if rng == nil {
		return nil, apperrors.InvalidInput("covariance estimation requires a random source")
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	noise := sc.WithoutPlanetSignal()
	axes := noise.Axes()

	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
				apperrors.NumericalSingularity(fmt.Sprintf("covariance estimation (stopped after %d attempts)", attempt-1), err))
		}

		seed := rng.Int63()
		data, err := e.simulator.Simulate(ctx, noise, seed)
		if err != nil {
			return nil, apperrors.Wrapf(err, "simulating signal-free realization %d", attempt)
		}
		if err := data.CheckAxes(axes); err != nil {
			return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
		}

		cov, err := FromSeries(data, e.opts.DiagonalOnly, e.opts.Tolerance)
		if err == nil {
			cov.Attempts = attempt
			cov.Seed = seed
			e.logger.Debug("invertible covariance after %d attempt(s), seed %d", attempt, seed)
			return cov, nil
		}
		if !errors.Is(err, core.ErrSingularCovariance) {
			return nil, err
		}
		lastErr = err
		e.logger.Warn("attempt %d/%d: %v; drawing a new realization", attempt, e.opts.MaxAttempts, err)
	}

	return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
		apperrors.NumericalSingularity(
			fmt.Sprintf("inverse square root of the noise covariance after %d signal-free realizations", e.opts.MaxAttempts),
			lastErr))
}

// FromSeries estimates the covariance of every channel of data and its
// whitening operator. It fails with core.ErrSingularCovariance when any channel
// is not invertible.
func FromSeries(data *signal.CountSeries, diagonalOnly bool, tol float64) (*signal.Covariance, error) {
	if data.TimeSteps() < 2 {
		return nil, fmt.Errorf("%w: need at least two time samples, have %d", core.ErrEmptySeries, data.TimeSteps())
	}
	matrices := make([]*mat.SymDense, data.Channels())
	operators := make([]*mat.Dense, data.Channels())
	for k := 0; k < data.Channels(); k++ {
		matrices[k] = Empirical(data.Channel(k), diagonalOnly)
		w, err := InverseSqrt(matrices[k], tol)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", k, err)
		}
		operators[k] = w
	}
	cov, err := signal.NewCovariance(matrices, operators)
	if err != nil {
		return nil, err
	}
	cov.DiagonalOnly = diagonalOnly
	return cov, nil
}
