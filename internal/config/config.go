package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"godetect/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Covariance CovarianceConfig
	Preprocess PreprocessConfig
	Templates  TemplateConfig
	Estimation EstimationConfig
	Testing    TestingConfig
	Run        RunConfig
}

// CovarianceConfig controls noise covariance estimation
type CovarianceConfig struct {
	DiagonalOnly bool
	MaxAttempts  int
	Timeout      time.Duration
	// Disabled skips whitening and uses the identity operator
	Disabled bool
}

// PreprocessConfig controls the optional spectral fit removed before whitening
type PreprocessConfig struct {
	SpectralFit bool
	// Degree of the polynomial fitted over the wavelength index
	Degree int
}

// TemplateConfig controls the template grid
type TemplateConfig struct {
	GridSize int
	// FieldOfView of zero means the simulator's natural field of view
	FieldOfView float64
}

// EstimationConfig controls the grid and continuous estimators
type EstimationConfig struct {
	SingularPolicy   string
	SubstituteValue  float64
	OptimizerTimeout time.Duration
	MaxIterations    int
	FluxUpperBound   float64
	SkipContinuous   bool
	// UseTruePosition reports grid estimates at the first planet's position
	// instead of the likelihood maximum
	UseTruePosition bool
}

// TestingConfig controls the hypothesis tests
type TestingConfig struct {
	Pfa         float64
	NormalizeNP bool
}

// RunConfig holds execution settings
type RunConfig struct {
	Seed         int64
	Workers      int
	LogLevel     string
	ScenarioFile string
	FITSOutput   string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Covariance: *loadCovarianceConfig(),
		Preprocess: *loadPreprocessConfig(),
		Templates:  *loadTemplateConfig(),
		Estimation: *loadEstimationConfig(),
		Testing:    *loadTestingConfig(),
		Run:        *loadRunConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Covariance: CovarianceConfig{MaxAttempts: 10, Timeout: 2 * time.Minute},
		Preprocess: PreprocessConfig{Degree: 3},
		Templates:  TemplateConfig{GridSize: 21},
		Estimation: EstimationConfig{
			SingularPolicy:   "substitute",
			SubstituteValue:  1,
			OptimizerTimeout: time.Minute,
			MaxIterations:    500,
		},
		Testing: TestingConfig{Pfa: 0.05},
		Run:     RunConfig{Seed: 42, Workers: 8, LogLevel: "INFO"},
	}
}

func loadCovarianceConfig() *CovarianceConfig {
	d := Default().Covariance
	return &CovarianceConfig{
		DiagonalOnly: getEnvBoolOrDefault("COV_DIAGONAL_ONLY", d.DiagonalOnly),
		MaxAttempts:  getEnvIntOrDefault("COV_MAX_ATTEMPTS", d.MaxAttempts),
		Timeout:      getEnvDurationOrDefault("COV_TIMEOUT", d.Timeout),
		Disabled:     getEnvBoolOrDefault("COV_DISABLED", d.Disabled),
	}
}

func loadPreprocessConfig() *PreprocessConfig {
	d := Default().Preprocess
	return &PreprocessConfig{
		SpectralFit: getEnvBoolOrDefault("SPECTRAL_FIT", d.SpectralFit),
		Degree:      getEnvIntOrDefault("SPECTRAL_FIT_DEGREE", d.Degree),
	}
}

func loadTemplateConfig() *TemplateConfig {
	d := Default().Templates
	return &TemplateConfig{
		GridSize:    getEnvIntOrDefault("GRID_SIZE", d.GridSize),
		FieldOfView: getEnvFloatOrDefault("FIELD_OF_VIEW", d.FieldOfView),
	}
}

func loadEstimationConfig() *EstimationConfig {
	d := Default().Estimation
	return &EstimationConfig{
		SingularPolicy:   strings.ToLower(getEnvOrDefault("SINGULAR_POLICY", d.SingularPolicy)),
		SubstituteValue:  getEnvFloatOrDefault("SINGULAR_SUBSTITUTE", d.SubstituteValue),
		OptimizerTimeout: getEnvDurationOrDefault("OPTIMIZER_TIMEOUT", d.OptimizerTimeout),
		MaxIterations:    getEnvIntOrDefault("OPTIMIZER_MAX_ITERATIONS", d.MaxIterations),
		FluxUpperBound:   getEnvFloatOrDefault("FLUX_UPPER_BOUND", d.FluxUpperBound),
		SkipContinuous:   getEnvBoolOrDefault("SKIP_CONTINUOUS", d.SkipContinuous),
		UseTruePosition:  getEnvBoolOrDefault("USE_TRUE_POSITION", d.UseTruePosition),
	}
}

func loadTestingConfig() *TestingConfig {
	d := Default().Testing
	return &TestingConfig{
		Pfa:         getEnvFloatOrDefault("PFA", d.Pfa),
		NormalizeNP: getEnvBoolOrDefault("NP_NORMALIZE", d.NormalizeNP),
	}
}

func loadRunConfig() *RunConfig {
	d := Default().Run
	return &RunConfig{
		Seed:         int64(getEnvIntOrDefault("SEED", int(d.Seed))),
		Workers:      getEnvIntOrDefault("WORKERS", d.Workers),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", d.LogLevel),
		ScenarioFile: getEnvOrDefault("SCENARIO_FILE", d.ScenarioFile),
		FITSOutput:   getEnvOrDefault("FITS_OUTPUT", d.FITSOutput),
	}
}

// Validate checks ranges that would otherwise surface deep inside a stage
func (c *Config) Validate() error {
	if c.Templates.GridSize < 1 {
		return errors.ConfigInvalid("GRID_SIZE must be at least 1")
	}
	if c.Templates.FieldOfView < 0 || math.IsNaN(c.Templates.FieldOfView) || math.IsInf(c.Templates.FieldOfView, 0) {
		return errors.ConfigInvalid("FIELD_OF_VIEW must be a finite non-negative angle")
	}
	if c.Covariance.MaxAttempts < 1 {
		return errors.ConfigInvalid("COV_MAX_ATTEMPTS must be at least 1")
	}
	if c.Preprocess.Degree < 0 {
		return errors.ConfigInvalid("SPECTRAL_FIT_DEGREE must be non-negative")
	}
	if c.Testing.Pfa <= 0 || c.Testing.Pfa >= 1 {
		return errors.ConfigInvalid("PFA must lie strictly between 0 and 1")
	}
	switch c.Estimation.SingularPolicy {
	case "substitute", "reject":
	default:
		return errors.ConfigInvalid("SINGULAR_POLICY must be substitute or reject")
	}
	if c.Estimation.SingularPolicy == "substitute" && !(c.Estimation.SubstituteValue > 0) {
		return errors.ConfigInvalid("SINGULAR_SUBSTITUTE must be positive")
	}
	if c.Estimation.FluxUpperBound < 0 {
		return errors.ConfigInvalid("FLUX_UPPER_BOUND must be non-negative (0 means unbounded)")
	}
	if c.Run.Workers < 1 {
		return errors.ConfigInvalid("WORKERS must be at least 1")
	}
	return nil
}

// Settings flattens the values that influence results, for fingerprinting runs
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"diagonal_only":    c.Covariance.DiagonalOnly,
		"max_attempts":     c.Covariance.MaxAttempts,
		"whitening":        !c.Covariance.Disabled,
		"spectral_fit":     c.Preprocess.SpectralFit,
		"spectral_degree":  c.Preprocess.Degree,
		"grid_size":        c.Templates.GridSize,
		"field_of_view":    c.Templates.FieldOfView,
		"singular_policy":  c.Estimation.SingularPolicy,
		"substitute_value": c.Estimation.SubstituteValue,
		"max_iterations":   c.Estimation.MaxIterations,
		"flux_upper_bound": c.Estimation.FluxUpperBound,
		"skip_continuous":  c.Estimation.SkipContinuous,
		"true_position":    c.Estimation.UseTruePosition,
		"pfa":              c.Testing.Pfa,
		"np_normalize":     c.Testing.NormalizeNP,
		"seed":             c.Run.Seed,
		"scenario_file":    c.Run.ScenarioFile,
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
