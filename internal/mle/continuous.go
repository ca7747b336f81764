package mle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"godetect/domain/core"
	"godetect/domain/signal"
	"godetect/internal"
	apperrors "godetect/internal/errors"
	"godetect/internal/whitening"
	"godetect/ports"
)

// ContinuousOptions controls the continuous refinement
type ContinuousOptions struct {
	// Timeout bounds the optimizer runtime per channel. When it elapses the
	// best point so far is returned as not converged.
	Timeout       time.Duration
	MaxIterations int
	Workers       int
}

// ContinuousEstimator refines grid estimates by minimising the whitened
// residual between simulator model and data over flux and position.
type ContinuousEstimator struct {
	simulator ports.SimulatorPort
	opts      ContinuousOptions
	logger    *internal.Logger
}

// NewContinuousEstimator creates an estimator that evaluates models with sim
func NewContinuousEstimator(sim ports.SimulatorPort, opts ContinuousOptions) *ContinuousEstimator {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &ContinuousEstimator{
		simulator: sim,
		opts:      opts,
		logger:    internal.DefaultLogger.Component("ContinuousMLE"),
	}
}

// Estimate fits each channel of the whitened data independently, starting from
// that channel's seed. cov must be the covariance that whitened data; nil means
// the data is unwhitened. Seeds outside bounds are clipped onto them, and seeds
// on a bound start just inside it.
func (e *ContinuousEstimator) Estimate(ctx context.Context, data *signal.CountSeries, cov *signal.Covariance, axes signal.Axes, seeds []signal.FluxEstimate, bounds Bounds) ([]signal.FluxEstimate, error) {
	if data == nil {
		return nil, apperrors.InvalidInput("continuous estimation requires data")
	}
	if err := data.CheckAxes(axes); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
	}
	if err := bounds.validate(); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}
	if len(seeds) != data.Channels() {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, core.NewShapeError("seed", data.Channels(), len(seeds)))
	}
	for k, s := range seeds {
		if len(s.Flux) != data.Wavelengths() {
			return nil, apperrors.WithCode(apperrors.CodeShapeMismatch,
				core.NewShapeError(fmt.Sprintf("channel %d seed flux", k), data.Wavelengths(), len(s.Flux)))
		}
	}

	out := make([]signal.FluxEstimate, data.Channels())
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)
	for k := 0; k < data.Channels(); k++ {
		eg.Go(func() error {
			est, err := e.fitChannel(egCtx, k, data.Flatten(k), cov, axes, seeds[k], bounds)
			if err != nil {
				return fmt.Errorf("channel %d: %w", k, err)
			}
			out[k] = est
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// channelFit evaluates the whitened model of one channel
type channelFit struct {
	ctx       context.Context
	simulator ports.SimulatorPort
	channel   int
	cov       *signal.Covariance
	axes      signal.Axes
	target    []float64
	params    intervals
	err       error
}

// residual writes W·model(u) - target into dst
func (f *channelFit) residual(dst, u []float64) {
	x := f.params.toExternal(nil, u)
	nWl := len(f.axes.Wavelengths)
	pos := signal.Position{X: x[nWl], Y: x[nWl+1]}
	resp, err := f.simulator.TemplateResponse(f.ctx, f.axes, pos, x[:nWl])
	if err != nil {
		if f.err == nil {
			f.err = err
		}
		for i := range dst {
			dst[i] = math.NaN()
		}
		return
	}
	model := whitening.ApplyChannel(f.cov, f.channel, resp.Channel(f.channel))
	floats.SubTo(dst, model.RawMatrix().Data, f.target)
}

func (f *channelFit) objective(u []float64) float64 {
	r := make([]float64, len(f.target))
	f.residual(r, u)
	return 0.5 * floats.Dot(r, r)
}

func (e *ContinuousEstimator) fitChannel(ctx context.Context, k int, target []float64, cov *signal.Covariance, axes signal.Axes, seed signal.FluxEstimate, bounds Bounds) (signal.FluxEstimate, error) {
	nWl := len(axes.Wavelengths)
	params := make(intervals, nWl+2)
	for i := 0; i < nWl; i++ {
		params[i] = interval{lo: 0, hi: bounds.FluxUpper, closed: bounds.FluxUpper > 0}
	}
	half := bounds.FieldOfView / 2
	params[nWl] = interval{lo: -half, hi: half, closed: true}
	params[nWl+1] = interval{lo: -half, hi: half, closed: true}

	start := append(append([]float64(nil), seed.Flux...), seed.Position.X, seed.Position.Y)
	u0 := params.startingPoint(start)

	fit := &channelFit{ctx: ctx, simulator: e.simulator, channel: k, cov: cov, axes: axes, target: target, params: params}
	problem := optimize.Problem{
		Func: fit.objective,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, fit.objective, u, &fd.Settings{Formula: fd.Central})
		},
	}

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	settings := &optimize.Settings{
		MajorIterations:   e.opts.MaxIterations,
		Runtime:           e.opts.Timeout,
		GradientThreshold: 1e-9,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-10, Iterations: 25},
		Recorder:          &contextRecorder{ctx: runCtx},
	}

	began := time.Now()
	res, optErr := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{})
	if err := ctx.Err(); err != nil {
		return signal.FluxEstimate{}, err
	}
	if fit.err != nil {
		return signal.FluxEstimate{}, apperrors.OptimizerFailure("model evaluation failed", fit.err)
	}
	if res == nil || len(res.X) == 0 || math.IsInf(res.F, 1) || math.IsNaN(res.F) {
		return signal.FluxEstimate{}, apperrors.OptimizerFailure("optimizer produced no finite objective value", optErr)
	}
	converged := optErr == nil && !res.Status.Early()
	if !converged {
		reason := res.Status.String()
		if optErr != nil {
			reason = optErr.Error()
		}
		e.logger.Warn("channel %d: optimizer stopped early (%s); returning best point", k, reason)
	}

	x := params.toExternal(nil, res.X)
	est := signal.FluxEstimate{
		Channel:   k,
		Method:    signal.MethodContinuous,
		Index:     seed.Index,
		Position:  signal.Position{X: x[nWl], Y: x[nWl+1]},
		Flux:      append([]float64(nil), x[:nWl]...),
		Converged: converged,
		Cost:      res.F,
	}

	covariance, err := fit.parameterCovariance(res.X, 2*res.F)
	if err != nil {
		e.logger.Warn("channel %d: parameter covariance unavailable: %v", k, err)
		e.logger.Debug("channel %d: %d iterations in %v", k, res.MajorIterations, time.Since(began))
		return est, nil
	}
	stds := make([]float64, nWl+2)
	for i := range stds {
		stds[i] = math.Sqrt(covariance.At(i, i))
	}
	est.ErrLow = append([]float64(nil), stds[:nWl]...)
	est.ErrHigh = append([]float64(nil), stds[:nWl]...)
	est.PositionErr = signal.Position{X: stds[nWl], Y: stds[nWl+1]}
	est.Covariance = covariance
	est.UncertaintyAvailable = true

	e.logger.Debug("channel %d: %d iterations in %v", k, res.MajorIterations, time.Since(began))
	return est, nil
}

var errNoCovariance = errors.New("parameter covariance not estimable")

// parameterCovariance returns (JᵀJ)⁻¹·SSR/(m−p) at the internal optimum u,
// mapped back onto the external parameters.
func (f *channelFit) parameterCovariance(u []float64, ssr float64) (*mat.SymDense, error) {
	m, p := len(f.target), len(u)
	if m <= p {
		return nil, fmt.Errorf("%w: %d residuals for %d parameters", errNoCovariance, m, p)
	}
	jac := mat.NewDense(m, p, nil)
	fd.Jacobian(jac, f.residual, u, &fd.JacobianSettings{Formula: fd.Central})
	if f.err != nil {
		return nil, f.err
	}

	var jtj mat.SymDense
	jtj.SymOuterK(1, jac.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&jtj); !ok {
		return nil, fmt.Errorf("%w: JᵀJ is not positive definite", errNoCovariance)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %v", errNoCovariance, err)
	}

	scale := ssr / float64(m-p)
	d := make([]float64, p)
	for i := range d {
		d[i] = f.params[i].derivative(u[i])
	}
	out := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			out.SetSym(i, j, inv.At(i, j)*scale*d[i]*d[j])
		}
		if v := out.At(i, i); v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: variance %g for parameter %d", errNoCovariance, v, i)
		}
	}
	return out, nil
}

// contextRecorder stops the optimizer once its context is done
type contextRecorder struct {
	ctx context.Context
}

func (r *contextRecorder) Init() error { return r.ctx.Err() }

func (r *contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
