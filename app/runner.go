package app

import (
	"context"
	"io"

	"godetect/adapters/rng"
	"godetect/adapters/simulator"
	"godetect/domain/scenario"
	"godetect/internal"
	"godetect/internal/config"
	"godetect/internal/errors"
)

// LoadScenario returns the scenario named by cfg, or the built-in default
func LoadScenario(cfg *config.Config) (scenario.Scenario, error) {
	if cfg.Run.ScenarioFile == "" {
		return simulator.DefaultScenario(), nil
	}
	sc, err := simulator.LoadScenario(cfg.Run.ScenarioFile)
	if err != nil {
		return sc, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return sc, nil
}

// RunSynthetic runs the chain against the synthetic interferometer, prints the
// report to w and exports FITS files when configured
func RunSynthetic(ctx context.Context, cfg *config.Config, w io.Writer) (*RunResult, error) {
	internal.DefaultLogger.SetLevel(internal.ParseLogLevel(cfg.Run.LogLevel))
	logger := internal.DefaultLogger.Component("Runner")

	sc, err := LoadScenario(cfg)
	if err != nil {
		return nil, err
	}
	sim, err := simulator.NewInterferometer(sc)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}

	svc := NewDetectionService(sim, rng.NewRNGAdapter(), cfg)
	res, err := svc.Run(ctx, sc)
	if err != nil {
		return res, err
	}
	if err := WriteReport(w, res); err != nil {
		return res, errors.Wrap(err, "writing report")
	}

	if cfg.Run.FITSOutput != "" {
		paths, err := ExportFITS(cfg.Run.FITSOutput, res)
		if err != nil {
			return res, errors.Wrap(err, "exporting FITS")
		}
		for _, p := range paths {
			logger.Info("wrote %s", p)
		}
	}
	return res, nil
}
