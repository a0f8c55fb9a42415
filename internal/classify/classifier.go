package classify

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/findsim/internal/model"
)

// Classifier labels candidate fingerprints generic or distinctive in
// batches, using a BatchClassifier.
type Classifier struct {
	backend     BatchClassifier
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBatchSize sets the maximum number of fingerprints per batch.
func WithBatchSize(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets the number of batches classified in parallel.
func WithConcurrency(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// New creates a Classifier.
func New(backend BatchClassifier, opts ...Option) *Classifier {
	c := &Classifier{
		backend:     backend,
		batchSize:   40,
		concurrency: 5,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// span is the half-open candidate range [start, end) of one batch.
type span struct {
	start, end int
}

func split(n, size int) []span {
	spans := make([]span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		spans = append(spans, span{start: start, end: min(start+size, n)})
	}
	return spans
}

// Classify returns one verdict per candidate, in candidate order.
//
// A batch whose answer has the wrong number of verdicts is retried once,
// split in halves. Batches that still fail, and batches whose API call
// fails, are labeled distinctive with FailOpen set. Only cancellation of
// ctx makes Classify return an error.
func (c *Classifier) Classify(ctx context.Context, candidates *model.CandidateSet, target string) ([]model.Verdict, error) {
	if candidates == nil || candidates.Len() == 0 {
		return []model.Verdict{}, nil
	}

	items := candidates.Items()
	verdicts := make([]model.Verdict, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, s := range split(len(items), c.batchSize) {
		g.Go(func() error {
			return c.classifySpan(gctx, target, items, verdicts, s)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// classifySpan fills verdicts[s.start:s.end]. Each call owns its range.
func (c *Classifier) classifySpan(ctx context.Context, target string, items []model.Fingerprint, verdicts []model.Verdict, s span) error {
	err := c.runBatch(ctx, target, items, verdicts, s)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !isShapeError(err) {
		c.logger.Warn("classification batch failed, keeping its fingerprints",
			"target", target,
			"batch_start", s.start,
			"batch_size", s.end-s.start,
			"error", err,
		)
		failOpen(items, verdicts, s, err)
		return nil
	}

	half := max(1, (s.end-s.start+1)/2)
	c.logger.Debug("classification shape mismatch, retrying with smaller batches",
		"target", target,
		"batch_size", s.end-s.start,
		"retry_size", half,
		"error", err,
	)
	for _, sub := range split(s.end-s.start, half) {
		sub = span{start: s.start + sub.start, end: s.start + sub.end}
		err := c.runBatch(ctx, target, items, verdicts, sub)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("classification retry failed, keeping its fingerprints",
			"target", target,
			"batch_start", sub.start,
			"batch_size", sub.end-sub.start,
			"error", err,
		)
		failOpen(items, verdicts, sub, err)
	}
	return nil
}

// runBatch classifies items[s.start:s.end] and writes the verdicts only
// when the answer has the right shape.
func (c *Classifier) runBatch(ctx context.Context, target string, items []model.Fingerprint, verdicts []model.Verdict, s span) error {
	batch := items[s.start:s.end]
	raw, err := c.backend.ClassifyBatch(ctx, Prompt{Target: target, Items: batch})
	if err != nil {
		return err
	}
	if len(raw) != len(batch) {
		return &model.ClassificationShapeError{Expected: len(batch), Got: len(raw)}
	}

	for i, rv := range raw {
		v := model.Verdict{
			Fingerprint: batch[i],
			Confidence:  rv.Confidence,
			Reason:      rv.Reason,
		}
		label, err := model.ParseLabel(rv.Label)
		if err != nil {
			v.FailOpen = true
			v.Reason = err.Error()
		}
		v.Label = label
		verdicts[s.start+i] = v
	}
	return nil
}

func isShapeError(err error) bool {
	var shapeErr *model.ClassificationShapeError
	return errors.As(err, &shapeErr) || errors.Is(err, ErrMalformedResponse)
}

func failOpen(items []model.Fingerprint, verdicts []model.Verdict, s span, cause error) {
	for i := s.start; i < s.end; i++ {
		verdicts[i] = model.Verdict{
			Fingerprint: items[i],
			Label:       model.LabelDistinctive,
			Reason:      "classification failed: " + cause.Error(),
			FailOpen:    true,
		}
	}
}

// Filter returns the distinctive fingerprints of verdicts, in order.
// A path fingerprint is dropped when the content hash of the same asset
// was labeled generic: a stock library keeps its stock file name.
// It returns model.ErrNoDistinctiveFingerprint when verdicts is not empty
// and nothing distinctive remains.
func Filter(verdicts []model.Verdict) ([]model.Fingerprint, error) {
	generic := genericAssets(verdicts)
	out := make([]model.Fingerprint, 0, len(verdicts))
	for _, v := range verdicts {
		if !v.Distinctive() {
			continue
		}
		if v.Fingerprint.Category() == model.SourcePath && generic[v.Fingerprint.Context] {
			continue
		}
		out = append(out, v.Fingerprint)
	}
	if len(out) == 0 && len(verdicts) > 0 {
		return nil, model.ErrNoDistinctiveFingerprint
	}
	return out, nil
}

// genericAssets returns the URLs of assets whose content hash is generic.
func genericAssets(verdicts []model.Verdict) map[string]bool {
	urls := make(map[string]bool)
	for _, v := range verdicts {
		fp := v.Fingerprint
		if v.Label == model.LabelGeneric && fp.Kind == model.KindHash && fp.Context != "" {
			urls[fp.Context] = true
		}
	}
	return urls
}

// Degraded reports whether any verdict is a fail-open default.
func Degraded(verdicts []model.Verdict) bool {
	for _, v := range verdicts {
		if v.FailOpen {
			return true
		}
	}
	return false
}
