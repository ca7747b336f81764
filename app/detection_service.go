package app

import (
	"context"
	"fmt"
	"time"

	"godetect/domain/core"
	"godetect/domain/run"
	"godetect/domain/scenario"
	"godetect/domain/signal"
	"godetect/domain/stage"
	"godetect/internal"
	"godetect/internal/config"
	"godetect/internal/covariance"
	"godetect/internal/errors"
	"godetect/internal/hypothesis"
	"godetect/internal/mle"
	"godetect/internal/pipeline"
	"godetect/internal/preprocess"
	"godetect/internal/templates"
	"godetect/internal/whitening"
	"godetect/ports"
)

// DetectionService wires the detection chain for one simulator and configuration
type DetectionService struct {
	simulator ports.SimulatorPort
	rng       ports.RNGPort
	cfg       *config.Config
	logger    *internal.Logger
}

// NewDetectionService creates a detection service
func NewDetectionService(sim ports.SimulatorPort, rng ports.RNGPort, cfg *config.Config) *DetectionService {
	if cfg == nil {
		cfg = config.Default()
	}
	return &DetectionService{
		simulator: sim,
		rng:       rng,
		cfg:       cfg,
		logger:    internal.DefaultLogger.Component("DetectionService"),
	}
}

// RunResult gathers every artifact of one run
type RunResult struct {
	RunID        core.RunID
	SettingsHash core.Hash
	Scenario     scenario.Scenario
	Manifest     *run.Manifest

	Data          *signal.CountSeries
	Covariance    *signal.Covariance
	TemplateBank  *signal.TemplateBank
	WhitenedData  *signal.CountSeries
	WhitenedBank  *signal.TemplateBank
	Grid          *mle.GridResult
	Continuous    []signal.FluxEstimate
	Energy        []signal.TestStatistic
	NeymanPearson []signal.TestStatistic
	MatchedFilter []signal.CostMap
	Correlation   []signal.CostMap

	Pipeline *stage.PipelineResult
	Duration time.Duration
}

// Estimates returns the continuous estimates when they were computed and the
// grid estimates otherwise
func (r *RunResult) Estimates() []signal.FluxEstimate {
	if len(r.Continuous) > 0 {
		return r.Continuous
	}
	if r.Grid != nil {
		return r.Grid.Best
	}
	return nil
}

// Detected reports whether any channel's Neyman-Pearson test fired
func (r *RunResult) Detected() bool {
	for _, s := range r.NeymanPearson {
		if s.Detected {
			return true
		}
	}
	return false
}

// Build validates the scenario and assembles the pipeline for it
func (s *DetectionService) Build(sc scenario.Scenario) (*pipeline.Pipeline, error) {
	if err := sc.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return pipeline.New(s.Stages(sc)...)
}

// Run executes the full chain on sc
func (s *DetectionService) Run(ctx context.Context, sc scenario.Scenario) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		RunID:        core.NewRunID(),
		SettingsHash: core.ComputeSettingsHash(s.cfg.Settings()),
		Scenario:     sc,
	}

	p, err := s.Build(sc)
	if err != nil {
		return nil, errors.Wrap(err, "building detection pipeline")
	}

	result.Manifest = run.NewManifest(result.RunID, sc, result.SettingsHash, p.Plan(), s.cfg.Run.Seed)

	s.logger.Info("run %s: %d channels, %d wavelengths, %d time steps, grid %d, fingerprint %s",
		result.RunID, sc.Instrument.Channels, len(sc.Instrument.Wavelengths),
		len(sc.Axes().Times), s.cfg.Templates.GridSize, result.Manifest.Fingerprint.Fingerprint.Short())

	arena := pipeline.NewArena()
	result.Pipeline, err = p.Run(ctx, arena)
	result.Duration = time.Since(start)
	if err != nil {
		return result, errors.Wrapf(err, "run %s", result.RunID)
	}

	if err := collect(arena, result); err != nil {
		return result, err
	}
	s.logger.Info("run %s finished in %v", result.RunID, result.Duration)
	return result, nil
}

func collect(arena *pipeline.Arena, r *RunResult) error {
	var err error
	if r.Data, err = pipeline.Get(arena, DataKey); err != nil {
		return err
	}
	if r.Covariance, err = pipeline.Get(arena, CovarianceKey); err != nil {
		return err
	}
	if r.TemplateBank, err = pipeline.Get(arena, TemplateBankKey); err != nil {
		return err
	}
	if r.WhitenedData, err = pipeline.Get(arena, WhitenedDataKey); err != nil {
		return err
	}
	if r.WhitenedBank, err = pipeline.Get(arena, WhitenedBankKey); err != nil {
		return err
	}
	if r.Grid, err = pipeline.Get(arena, GridResultKey); err != nil {
		return err
	}
	if arena.Has(ContinuousKey.Name()) {
		if r.Continuous, err = pipeline.Get(arena, ContinuousKey); err != nil {
			return err
		}
	}
	if r.Energy, err = pipeline.Get(arena, EnergyTestKey); err != nil {
		return err
	}
	if r.NeymanPearson, err = pipeline.Get(arena, NeymanPearsonKey); err != nil {
		return err
	}
	if r.MatchedFilter, err = pipeline.Get(arena, MatchedFilterKey); err != nil {
		return err
	}
	if r.Correlation, err = pipeline.Get(arena, CorrelationMapKey); err != nil {
		return err
	}
	return nil
}

// Stages returns the canonical stage list for sc. The continuous stage is
// left out when it is disabled, and the Neyman-Pearson test then uses the
// grid estimates. The spectral fit stage only runs when enabled.
func (s *DetectionService) Stages(sc scenario.Scenario) []pipeline.Stage {
	axes := sc.Axes()
	stages := []pipeline.Stage{
		s.dataGeneration(sc),
		s.covarianceStage(sc),
		s.templateStage(axes),
	}
	if s.cfg.Preprocess.SpectralFit {
		stages = append(stages, s.spectralFitStage(sc))
	}
	stages = append(stages,
		s.whiteningStage(),
		s.gridStage(sc),
	)
	if !s.cfg.Estimation.SkipContinuous {
		stages = append(stages, s.continuousStage(axes))
	}
	stages = append(stages,
		s.energyStage(),
		s.neymanPearsonStage(axes),
		s.matchedFilterStage(),
	)
	return stages
}

func (s *DetectionService) dataGeneration(sc scenario.Scenario) pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageDataGeneration,
		Out:       pipeline.Names(DataKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			rng, err := s.rng.SeededStream(ctx, string(stage.StageDataGeneration), s.cfg.Run.Seed)
			if err != nil {
				return err
			}
			data, err := s.simulator.Simulate(ctx, sc, rng.Int63())
			if err != nil {
				return errors.Wrap(err, "simulating observation")
			}
			if err := data.CheckAxes(sc.Axes()); err != nil {
				return errors.WithCode(errors.CodeShapeMismatch, err)
			}
			return pipeline.Put(a, DataKey, data)
		},
	}
}

func (s *DetectionService) covarianceStage(sc scenario.Scenario) pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageCovariance,
		Out:       pipeline.Names(CovarianceKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			if s.cfg.Covariance.Disabled {
				s.logger.Info("whitening disabled, using identity covariance")
				return pipeline.Put(a, CovarianceKey, nil)
			}
			rng, err := s.rng.SeededStream(ctx, string(stage.StageCovariance), s.cfg.Run.Seed)
			if err != nil {
				return err
			}
			est := covariance.NewEstimator(s.simulator, covariance.Options{
				DiagonalOnly: s.cfg.Covariance.DiagonalOnly,
				MaxAttempts:  s.cfg.Covariance.MaxAttempts,
				Timeout:      s.cfg.Covariance.Timeout,
			})
			cov, err := est.Estimate(ctx, sc, rng)
			if err != nil {
				return err
			}
			return pipeline.Put(a, CovarianceKey, cov)
		},
	}
}

func (s *DetectionService) templateStage(axes signal.Axes) pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageTemplates,
		Out:       pipeline.Names(TemplateBankKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			gen := templates.NewGenerator(s.simulator, templates.Options{Workers: s.cfg.Run.Workers})
			bank, err := gen.Generate(ctx, axes, s.cfg.Templates.FieldOfView, s.cfg.Templates.GridSize)
			if err != nil {
				return err
			}
			return pipeline.Put(a, TemplateBankKey, bank)
		},
	}
}

// operatorKey is the operator every stage whitens with: the covariance, or the
// covariance composed with the spectral fit when that stage runs
func (s *DetectionService) operatorKey() pipeline.Key[*signal.Covariance] {
	if s.cfg.Preprocess.SpectralFit {
		return OperatorKey
	}
	return CovarianceKey
}

func (s *DetectionService) spectralFitStage(sc scenario.Scenario) pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageSpectralFit,
		In:        pipeline.Names(CovarianceKey),
		Out:       pipeline.Names(OperatorKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			cov, err := pipeline.Get(a, CovarianceKey)
			if err != nil {
				return err
			}
			op, err := preprocess.Compose(cov, sc.Instrument.Channels, len(sc.Instrument.Wavelengths), s.cfg.Preprocess.Degree)
			if err != nil {
				return err
			}
			s.logger.Info("removing degree %d spectral fit before whitening", s.cfg.Preprocess.Degree)
			return pipeline.Put(a, OperatorKey, op)
		},
	}
}

func (s *DetectionService) whiteningStage() pipeline.Stage {
	opKey := s.operatorKey()
	return pipeline.Func{
		StageName: stage.StageWhitening,
		In:        pipeline.Names(DataKey, opKey, TemplateBankKey),
		Out:       pipeline.Names(WhitenedDataKey, WhitenedBankKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			data, err := pipeline.Get(a, DataKey)
			if err != nil {
				return err
			}
			cov, err := pipeline.Get(a, opKey)
			if err != nil {
				return err
			}
			bank, err := pipeline.Get(a, TemplateBankKey)
			if err != nil {
				return err
			}
			wData, wBank, err := whitening.Apply(cov, data, bank)
			if err != nil {
				return err
			}
			if err := pipeline.Put(a, WhitenedDataKey, wData); err != nil {
				return err
			}
			return pipeline.Put(a, WhitenedBankKey, wBank)
		},
	}
}

func (s *DetectionService) gridStage(sc scenario.Scenario) pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageGridMLE,
		In:        pipeline.Names(WhitenedDataKey, WhitenedBankKey),
		Out:       pipeline.Names(GridResultKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			policy, err := mle.ParseSingularPolicy(s.cfg.Estimation.SingularPolicy)
			if err != nil {
				return err
			}
			substitute := s.cfg.Estimation.SubstituteValue
			opts := mle.GridOptions{
				Policy:          policy,
				SubstituteValue: &substitute,
				Workers:         s.cfg.Run.Workers,
			}
			if s.cfg.Estimation.UseTruePosition {
				if len(sc.Scene.Planets) == 0 {
					return errors.ConfigInvalid("true position requested but the scene has no planet")
				}
				pos := sc.Scene.Planets[0].Position
				opts.AtPosition = &pos
			}

			data, err := pipeline.Get(a, WhitenedDataKey)
			if err != nil {
				return err
			}
			bank, err := pipeline.Get(a, WhitenedBankKey)
			if err != nil {
				return err
			}
			res, err := mle.NewGridEstimator(opts).Estimate(ctx, data, bank)
			if err != nil {
				return err
			}
			for _, best := range res.Best {
				s.logger.Info("channel %d grid estimate at (%.3g, %.3g), total flux %.4g",
					best.Channel, best.Position.X, best.Position.Y, best.TotalFlux())
			}
			return pipeline.Put(a, GridResultKey, res)
		},
	}
}

func (s *DetectionService) continuousStage(axes signal.Axes) pipeline.Stage {
	opKey := s.operatorKey()
	return pipeline.Func{
		StageName: stage.StageContinuousMLE,
		In:        pipeline.Names(WhitenedDataKey, opKey, TemplateBankKey, GridResultKey),
		Out:       pipeline.Names(ContinuousKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			data, err := pipeline.Get(a, WhitenedDataKey)
			if err != nil {
				return err
			}
			cov, err := pipeline.Get(a, opKey)
			if err != nil {
				return err
			}
			bank, err := pipeline.Get(a, TemplateBankKey)
			if err != nil {
				return err
			}
			grid, err := pipeline.Get(a, GridResultKey)
			if err != nil {
				return err
			}
			est := mle.NewContinuousEstimator(s.simulator, mle.ContinuousOptions{
				Timeout:       s.cfg.Estimation.OptimizerTimeout,
				MaxIterations: s.cfg.Estimation.MaxIterations,
				Workers:       s.cfg.Run.Workers,
			})
			bounds := mle.Bounds{FieldOfView: bank.FieldOfView(), FluxUpper: s.cfg.Estimation.FluxUpperBound}
			refined, err := est.Estimate(ctx, data, cov, axes, grid.Best, bounds)
			if err != nil {
				return err
			}
			return pipeline.Put(a, ContinuousKey, refined)
		},
	}
}

func (s *DetectionService) energyStage() pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageEnergyTest,
		In:        pipeline.Names(WhitenedDataKey),
		Out:       pipeline.Names(EnergyTestKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			data, err := pipeline.Get(a, WhitenedDataKey)
			if err != nil {
				return err
			}
			stats, err := hypothesis.EnergyDetector{Pfa: s.cfg.Testing.Pfa}.Test(data)
			if err != nil {
				return err
			}
			logStatistics(s.logger, stats)
			return pipeline.Put(a, EnergyTestKey, stats)
		},
	}
}

func (s *DetectionService) neymanPearsonStage(axes signal.Axes) pipeline.Stage {
	opKey := s.operatorKey()
	in := pipeline.Names(WhitenedDataKey, opKey, GridResultKey)
	if !s.cfg.Estimation.SkipContinuous {
		in = append(in, ContinuousKey.Name())
	}
	return pipeline.Func{
		StageName: stage.StageNeymanPearson,
		In:        in,
		Out:       pipeline.Names(NeymanPearsonKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			data, err := pipeline.Get(a, WhitenedDataKey)
			if err != nil {
				return err
			}
			cov, err := pipeline.Get(a, opKey)
			if err != nil {
				return err
			}
			estimates, err := s.modelEstimates(a)
			if err != nil {
				return err
			}
			models, err := hypothesis.Models(ctx, s.simulator, cov, axes, estimates)
			if err != nil {
				return err
			}
			np := hypothesis.NeymanPearson{Pfa: s.cfg.Testing.Pfa, Normalize: s.cfg.Testing.NormalizeNP}
			stats, err := np.Test(data, models)
			if err != nil {
				return err
			}
			logStatistics(s.logger, stats)
			return pipeline.Put(a, NeymanPearsonKey, stats)
		},
	}
}

// modelEstimates prefers the continuous estimates and falls back to the grid
// estimate of any channel whose fit is unavailable
func (s *DetectionService) modelEstimates(a *pipeline.Arena) ([]signal.FluxEstimate, error) {
	grid, err := pipeline.Get(a, GridResultKey)
	if err != nil {
		return nil, err
	}
	if !a.Has(ContinuousKey.Name()) {
		return grid.Best, nil
	}
	refined, err := pipeline.Get(a, ContinuousKey)
	if err != nil {
		return nil, err
	}
	out := make([]signal.FluxEstimate, len(grid.Best))
	for k := range grid.Best {
		if k < len(refined) && len(refined[k].Flux) > 0 {
			out[k] = refined[k]
			continue
		}
		s.logger.Warn("channel %d has no continuous estimate, using the grid estimate", k)
		out[k] = grid.Best[k]
	}
	return out, nil
}

func (s *DetectionService) matchedFilterStage() pipeline.Stage {
	return pipeline.Func{
		StageName: stage.StageMatchedFilter,
		In:        pipeline.Names(WhitenedDataKey, WhitenedBankKey),
		Out:       pipeline.Names(MatchedFilterKey, CorrelationMapKey),
		Fn: func(ctx context.Context, a *pipeline.Arena) error {
			data, err := pipeline.Get(a, WhitenedDataKey)
			if err != nil {
				return err
			}
			bank, err := pipeline.Get(a, WhitenedBankKey)
			if err != nil {
				return err
			}
			mf, err := hypothesis.MatchedFilterMap(ctx, data, bank)
			if err != nil {
				return err
			}
			corr, err := hypothesis.CorrelationMap(ctx, data, bank)
			if err != nil {
				return err
			}
			if err := pipeline.Put(a, MatchedFilterKey, mf); err != nil {
				return err
			}
			return pipeline.Put(a, CorrelationMapKey, corr)
		},
	}
}

func logStatistics(logger *internal.Logger, stats []signal.TestStatistic) {
	for _, st := range stats {
		logger.Info("%s channel %d: statistic %.4g, threshold %.4g, detected %t",
			st.Kind, st.Channel, st.Statistic, st.Threshold, st.Detected)
	}
}

// String summarises the outcome on one line
func (r *RunResult) String() string {
	if r.Pipeline == nil {
		return fmt.Sprintf("run %s: not started", r.RunID)
	}
	return fmt.Sprintf("run %s: detected=%t stages=%d/%d duration=%v",
		r.RunID, r.Detected(), r.Pipeline.Overall.Successful, r.Pipeline.Overall.TotalStages, r.Duration)
}
