// Package pipeline runs an ordered list of stages that exchange artifacts
// through a typed arena. The producer/consumer graph is checked when the
// pipeline is built, so wiring mistakes never surface halfway through a run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"godetect/domain/core"
	"godetect/domain/stage"
	"godetect/internal"
	"godetect/internal/errors"
)

// Stage is one step of the detection chain
type Stage interface {
	Name() stage.StageName
	Consumes() []core.ResourceName
	Produces() []core.ResourceName
	Run(ctx context.Context, arena *Arena) error
}

// Func adapts a function to the Stage interface
type Func struct {
	StageName stage.StageName
	In        []core.ResourceName
	Out       []core.ResourceName
	Fn        func(ctx context.Context, arena *Arena) error
}

func (f Func) Name() stage.StageName                       { return f.StageName }
func (f Func) Consumes() []core.ResourceName               { return f.In }
func (f Func) Produces() []core.ResourceName               { return f.Out }
func (f Func) Run(ctx context.Context, arena *Arena) error { return f.Fn(ctx, arena) }

// Names collects resource names from keys of any type
func Names(names ...interface{ Name() core.ResourceName }) []core.ResourceName {
	out := make([]core.ResourceName, len(names))
	for i, n := range names {
		out[i] = n.Name()
	}
	return out
}

// Pipeline is a validated, ordered list of stages
type Pipeline struct {
	stages []Stage
	plan   *stage.StagePlan
	logger *internal.Logger
}

// New validates the stage graph: each resource has exactly one producer and
// every consumed resource is produced by an earlier stage.
func New(stages ...Stage) (*Pipeline, error) {
	specs := make([]stage.StageSpec, len(stages))
	for i, s := range stages {
		specs[i] = stage.StageSpec{Name: s.Name(), Consumes: s.Consumes(), Produces: s.Produces()}
	}
	plan := stage.NewStagePlan(specs)
	if err := plan.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return &Pipeline{
		stages: stages,
		plan:   plan,
		logger: internal.DefaultLogger.Component("Pipeline"),
	}, nil
}

// Plan returns the validated plan
func (p *Pipeline) Plan() *stage.StagePlan { return p.plan }

// Run executes the stages in order and stops at the first failure. The
// returned result covers every stage that ran, including the failed one.
func (p *Pipeline) Run(ctx context.Context, arena *Arena) (*stage.PipelineResult, error) {
	result := stage.NewPipelineResult(p.plan)
	p.logger.Info("running %d stages (plan %s)", len(p.stages), p.plan.Hash().Short())

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return result, errors.Wrapf(err, "stage %s", s.Name())
		}

		start := time.Now()
		err := s.Run(ctx, arena)
		if err == nil {
			err = checkProduced(s, arena)
		}
		elapsed := time.Since(start)

		res := stage.StageResult{
			StageName: s.Name(),
			Success:   err == nil,
			Duration:  elapsed.Milliseconds(),
		}
		if err != nil {
			res.Error = err.Error()
			result.AddResult(res)
			p.logger.Error("stage %s failed after %v: %v", s.Name(), elapsed, err)
			return result, errors.Wrapf(err, "stage %s", s.Name())
		}
		res.Produced = s.Produces()
		result.AddResult(res)
		p.logger.Info("stage %s finished in %v", s.Name(), elapsed)
	}

	return result, nil
}

func checkProduced(s Stage, arena *Arena) error {
	for _, name := range s.Produces() {
		if !arena.Has(name) {
			return errors.WithCode(errors.CodeConfigInvalid,
				fmt.Errorf("stage %s did not produce %q: %w", s.Name(), name, core.NewNotFoundError(name.String())))
		}
	}
	return nil
}
