package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/findsim/internal/model"
)

// Step is one stage of processing a target.
type Step interface {
	// Do runs the step against report. Recoverable problems are recorded
	// in the report and Do returns nil; a returned error stops the
	// pipeline for this target.
	Do(ctx context.Context, report *model.Report) error

	// Name returns the step name used in logs and in the report.
	Name() string
}

// Pipeline runs steps in order over one report.
type Pipeline struct {
	steps  []Step
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// AddStep appends a step.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends steps in order.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs the steps in order and stops at the first error, which is
// also recorded in the report.
//
// Cancellation is checked before every step. When ctx ends after hosts
// were already aggregated, the report is marked incomplete and Execute
// returns nil so the partial results are kept.
func (p *Pipeline) Execute(ctx context.Context, report *model.Report) error {
	defer func() {
		report.FinishedAt = time.Now()
	}()

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			report.TimedOut = true
			report.Incomplete = true
			if report.Results != nil && report.Results.Len() > 0 {
				p.logger.Warn("run interrupted, keeping partial results",
					"target", report.Target,
					"step", step.Name(),
					"hosts", report.Results.Len(),
				)
				report.AddWarning("run interrupted before %s: %v", step.Name(), err)
				return nil
			}
			p.logger.Warn("pipeline cancelled",
				"target", report.Target,
				"step", step.Name(),
				"reason", err,
			)
			report.SetError(err)
			return err
		}

		p.logger.Info("executing step",
			"step", step.Name(),
			"target", report.Target,
		)
		if err := step.Do(ctx, report); err != nil {
			p.logger.Error("step failed",
				"step", step.Name(),
				"target", report.Target,
				"error", err,
			)
			report.SetError(err)
			return err
		}
		p.logger.Debug("step completed",
			"step", step.Name(),
			"target", report.Target,
		)
		report.Steps = append(report.Steps, step.Name())
	}
	return nil
}

// StepCount returns the number of steps.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the step names in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
