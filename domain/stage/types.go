package stage

import (
	"encoding/json"
	"errors"
	"fmt"

	"godetect/domain/core"
)

// StageName represents a named stage in the pipeline
type StageName string

// Predefined stage names
const (
	StageDataGeneration StageName = "data_generation"
	StageCovariance     StageName = "covariance"
	StageTemplates      StageName = "templates"
	StageSpectralFit    StageName = "spectral_fit"
	StageWhitening      StageName = "whitening"
	StageGridMLE        StageName = "grid_mle"
	StageContinuousMLE  StageName = "continuous_mle"
	StageEnergyTest     StageName = "energy_test"
	StageNeymanPearson  StageName = "neyman_pearson_test"
	StageMatchedFilter  StageName = "matched_filter_map"
)

// StageSpec declares what a stage reads from and writes to the resource arena
type StageSpec struct {
	Name     StageName           `json:"name"`
	Consumes []core.ResourceName `json:"consumes"`
	Produces []core.ResourceName `json:"produces"`
}

// StagePlan represents an ordered list of stages
type StagePlan struct {
	Stages []StageSpec `json:"stages"`
}

// NewStagePlan creates a new stage plan
func NewStagePlan(stages []StageSpec) *StagePlan {
	return &StagePlan{Stages: stages}
}

// Hash fingerprints the plan. Order matters: the same stages in a different
// order are a different plan.
func (p *StagePlan) Hash() core.Hash {
	data, _ := json.Marshal(p.Stages)
	return core.NewHash(data)
}

// Validate checks that every resource has exactly one producer and that every
// consumed resource is produced by an earlier stage.
func (p *StagePlan) Validate() error {
	if len(p.Stages) == 0 {
		return errors.New("stage plan must contain at least one stage")
	}

	seenNames := make(map[StageName]bool)
	producers := make(map[core.ResourceName]StageName)
	for _, spec := range p.Stages {
		if spec.Name == "" {
			return errors.New("stage name cannot be empty")
		}
		if seenNames[spec.Name] {
			return fmt.Errorf("duplicate stage name: %s", spec.Name)
		}
		seenNames[spec.Name] = true

		for _, name := range spec.Consumes {
			if _, ok := producers[name]; !ok {
				return fmt.Errorf("stage %s consumes %q which no earlier stage produces: %w",
					spec.Name, name, core.NewNotFoundError(name.String()))
			}
		}
		for _, name := range spec.Produces {
			if other, ok := producers[name]; ok {
				return fmt.Errorf("%w: %q by stages %s and %s", core.ErrDuplicateProducer, name, other, spec.Name)
			}
			producers[name] = spec.Name
		}
	}
	return nil
}

// StageResult represents the outcome of one stage execution
type StageResult struct {
	StageName StageName           `json:"stage_name"`
	Success   bool                `json:"success"`
	Produced  []core.ResourceName `json:"produced,omitempty"`
	Error     string              `json:"error,omitempty"`
	Duration  int64               `json:"duration_ms"` // milliseconds
}

// PipelineResult contains the results of executing a stage plan
type PipelineResult struct {
	Plan    *StagePlan      `json:"plan"`
	Results []StageResult   `json:"results"`
	Overall PipelineSummary `json:"overall"`
}

// PipelineSummary provides high-level pipeline statistics
type PipelineSummary struct {
	TotalStages    int   `json:"total_stages"`
	Successful     int   `json:"successful"`
	Failed         int   `json:"failed"`
	TotalDuration  int64 `json:"total_duration_ms"`
	ResourcesCount int   `json:"resources_count"`
}

// NewPipelineResult creates a new pipeline result
func NewPipelineResult(plan *StagePlan) *PipelineResult {
	return &PipelineResult{
		Plan:    plan,
		Results: make([]StageResult, 0, len(plan.Stages)),
	}
}

// AddResult adds a stage result and updates summary
func (r *PipelineResult) AddResult(result StageResult) {
	r.Results = append(r.Results, result)
	r.Overall.TotalStages++

	if result.Success {
		r.Overall.Successful++
	} else {
		r.Overall.Failed++
	}

	r.Overall.TotalDuration += result.Duration
	r.Overall.ResourcesCount += len(result.Produced)
}

// Success returns true if all stages succeeded
func (r *PipelineResult) Success() bool {
	return r.Overall.Failed == 0
}
