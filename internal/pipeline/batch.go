package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/findsim/internal/model"
)

// BatchProcessor runs one pipeline per target with bounded concurrency.
// A failing target never affects the others.
type BatchProcessor struct {
	// pipelineFactory builds a fresh pipeline for every target.
	pipelineFactory func() *Pipeline

	concurrency int
	runID       string
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the number of targets processed in parallel.
// Default is 5.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithRunID stamps every report with the invocation id.
func WithRunID(id string) BatchOption {
	return func(b *BatchProcessor) {
		b.runID = id
	}
}

// NewBatchProcessor creates a BatchProcessor.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     5,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch processes targets and returns their reports in input order.
// Reports of failed targets carry the error.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, targets []string) []*model.Report {
	reports := make([]*model.Report, len(targets))
	bp.ProcessBatchWithCallback(ctx, targets, func(report *model.Report, index int) {
		reports[index] = report
	})
	return reports
}

// ProcessBatchWithCallback processes targets and calls callback for each
// report as soon as its pipeline ends, in completion order. The callback
// runs on the worker goroutine and must be safe for concurrent use.
//
// Every target gets a report, including targets that never started
// because ctx ended first.
func (bp *BatchProcessor) ProcessBatchWithCallback(ctx context.Context, targets []string, callback func(report *model.Report, index int)) {
	bp.logger.Info("starting batch processing",
		"run_id", bp.runID,
		"targets", len(targets),
		"concurrency", bp.concurrency,
	)
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(bp.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			report := model.NewReport(target)
			report.RunID = bp.runID

			if err := ctx.Err(); err != nil {
				report.TimedOut = true
				report.SetError(err)
				report.FinishedAt = time.Now()
				callback(report, i)
				return nil
			}

			bp.logger.Info("processing target",
				"target", target,
				"index", i+1,
				"total", len(targets),
			)
			if err := bp.pipelineFactory().Execute(ctx, report); err != nil {
				bp.logger.Warn("target failed", "target", target, "error", err)
			} else {
				bp.logger.Info("target completed",
					"target", target,
					"hosts", len(report.Hosts()),
				)
			}
			callback(report, i)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // errors are recorded per report

	bp.logger.Info("batch processing complete",
		"targets", len(targets),
		"elapsed", time.Since(started),
	)
}
