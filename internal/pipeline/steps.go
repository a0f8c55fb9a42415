package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nao1215/findsim/internal/classify"
	"github.com/nao1215/findsim/internal/model"
	"github.com/nao1215/findsim/internal/search"
)

// Step names as recorded in the report.
const (
	StepFetch    = "fetch"
	StepExtract  = "extract"
	StepClassify = "classify"
	StepCompile  = "compile"
	StepSearch   = "search"
	StepVerify   = "verify"
)

// PageFetcher fetches a target page with its sub-resources.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*model.Page, error)
}

// FingerprintExtractor turns a fetched page into candidate fingerprints.
type FingerprintExtractor interface {
	Extract(page *model.Page) *model.CandidateSet
}

// FingerprintClassifier labels candidates generic or distinctive.
type FingerprintClassifier interface {
	Classify(ctx context.Context, candidates *model.CandidateSet, target string) ([]model.Verdict, error)
}

// QueryCompiler turns distinctive fingerprints into queries.
type QueryCompiler interface {
	Compile(distinctive []model.Fingerprint) ([]model.Query, error)
}

// SearchRunner executes queries and aggregates their hosts.
type SearchRunner interface {
	Run(ctx context.Context, queries []model.Query, limits search.Limits) (*model.ResultSet, []model.QueryOutcome)
}

// ResultVerifier scores query outcomes against the target page.
type ResultVerifier interface {
	Verify(ctx context.Context, target *model.Page, results []model.SearchResult, outcomes []model.QueryOutcome) error
}

// StepOption configures the steps of this package.
type StepOption func(*stepBase)

// WithStepLogger sets the step logger.
func WithStepLogger(logger *slog.Logger) StepOption {
	return func(b *stepBase) {
		b.logger = logger
	}
}

type stepBase struct {
	logger *slog.Logger
}

func newBase(opts []StepOption) stepBase {
	b := stepBase{logger: slog.Default()}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// FetchStep downloads the target page.
type FetchStep struct {
	stepBase
	fetcher PageFetcher
}

// NewFetchStep creates a FetchStep.
func NewFetchStep(f PageFetcher, opts ...StepOption) *FetchStep {
	return &FetchStep{stepBase: newBase(opts), fetcher: f}
}

// Name returns the step name.
func (s *FetchStep) Name() string { return StepFetch }

// Do fetches the page. A page that came back with a body is kept even on
// a non-2xx status, with a warning; no body at all is fatal. Failed
// sub-resources become warnings.
func (s *FetchStep) Do(ctx context.Context, report *model.Report) error {
	page, err := s.fetcher.Fetch(ctx, report.Target)
	if !page.HasBody() {
		if err == nil {
			err = &model.FetchError{URL: report.Target, Err: fmt.Errorf("empty response body")}
		}
		report.Page = page
		return err
	}
	if err != nil {
		s.logger.Warn("target page returned an error status", "target", report.Target, "error", err)
		report.AddWarning("%v", err)
	}
	report.Page = page

	for _, r := range page.SubResources {
		if r.Err != nil {
			report.AddWarning("%s %s: %v", r.Type, r.URL, r.Err)
		}
	}
	return nil
}

// ExtractStep builds the candidate fingerprint set.
type ExtractStep struct {
	stepBase
	extractor FingerprintExtractor
}

// NewExtractStep creates an ExtractStep.
func NewExtractStep(e FingerprintExtractor, opts ...StepOption) *ExtractStep {
	return &ExtractStep{stepBase: newBase(opts), extractor: e}
}

// Name returns the step name.
func (s *ExtractStep) Name() string { return StepExtract }

// Do extracts candidates. An empty candidate set is fatal.
func (s *ExtractStep) Do(_ context.Context, report *model.Report) error {
	report.Candidates = s.extractor.Extract(report.Page)
	if report.Candidates.Len() == 0 {
		return model.ErrNoFingerprint
	}
	s.logger.Debug("candidates extracted", "target", report.Target, "count", report.Candidates.Len())
	return nil
}

// ClassifyStep filters out generic fingerprints.
type ClassifyStep struct {
	stepBase
	classifier FingerprintClassifier
}

// NewClassifyStep creates a ClassifyStep.
func NewClassifyStep(c FingerprintClassifier, opts ...StepOption) *ClassifyStep {
	return &ClassifyStep{stepBase: newBase(opts), classifier: c}
}

// Name returns the step name.
func (s *ClassifyStep) Name() string { return StepClassify }

// Do classifies the candidates and keeps the distinctive ones.
func (s *ClassifyStep) Do(ctx context.Context, report *model.Report) error {
	verdicts, err := s.classifier.Classify(ctx, report.Candidates, report.Target)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	report.Verdicts = verdicts
	report.ClassifierDegraded = classify.Degraded(verdicts)
	if report.ClassifierDegraded {
		report.AddWarning("classifier degraded: some fingerprints were kept without a verdict")
	}

	distinctive, err := classify.Filter(verdicts)
	if err != nil {
		return err
	}
	report.Distinctive = distinctive
	s.logger.Debug("candidates classified",
		"target", report.Target,
		"candidates", len(verdicts),
		"distinctive", len(distinctive),
	)
	return nil
}

// CompileStep builds the search queries.
type CompileStep struct {
	stepBase
	compiler QueryCompiler
}

// NewCompileStep creates a CompileStep.
func NewCompileStep(c QueryCompiler, opts ...StepOption) *CompileStep {
	return &CompileStep{stepBase: newBase(opts), compiler: c}
}

// Name returns the step name.
func (s *CompileStep) Name() string { return StepCompile }

// Do compiles the distinctive fingerprints.
func (s *CompileStep) Do(_ context.Context, report *model.Report) error {
	queries, err := s.compiler.Compile(report.Distinctive)
	if err != nil {
		return err
	}
	report.Queries = queries
	for _, q := range queries {
		if q.Broad {
			report.AddWarning("broad query %s rests on a single weak fingerprint", q.Text)
		}
	}
	return nil
}

// SearchStep executes the queries and aggregates hosts.
type SearchStep struct {
	stepBase
	runner SearchRunner
	limits search.Limits
}

// NewSearchStep creates a SearchStep.
func NewSearchStep(r SearchRunner, limits search.Limits, opts ...StepOption) *SearchStep {
	return &SearchStep{stepBase: newBase(opts), runner: r, limits: limits}
}

// Name returns the step name.
func (s *SearchStep) Name() string { return StepSearch }

// Do runs every query. Query failures are recorded on their outcomes and
// mark the report incomplete; they are never fatal. Outcomes and queries
// are then ordered by the engine's match count, fewest first.
func (s *SearchStep) Do(ctx context.Context, report *model.Report) error {
	report.Results, report.Outcomes = s.runner.Run(ctx, report.Queries, s.limits)

	model.SortByTotal(report.Outcomes)
	report.Queries = make([]model.Query, len(report.Outcomes))
	for i, o := range report.Outcomes {
		report.Queries[i] = o.Query
	}
	for _, o := range report.TooBroadQueries() {
		report.AddWarning("query %s matched %d records, results dropped", o.Query.Text, o.Total)
	}

	for _, o := range report.IncompleteQueries() {
		report.Incomplete = true
		report.AddWarning("query %s %s: %s", o.Query.Text, o.State, o.ErrorMessage)
	}
	if ctx.Err() != nil {
		report.TimedOut = true
		report.Incomplete = true
	}
	s.logger.Info("search completed",
		"target", report.Target,
		"queries", len(report.Queries),
		"hosts", report.Results.Len(),
		"incomplete", report.Incomplete,
	)
	return nil
}

// VerifyStep samples the results of each query and scores them.
type VerifyStep struct {
	stepBase
	verifier ResultVerifier
}

// NewVerifyStep creates a VerifyStep.
func NewVerifyStep(v ResultVerifier, opts ...StepOption) *VerifyStep {
	return &VerifyStep{stepBase: newBase(opts), verifier: v}
}

// Name returns the step name.
func (s *VerifyStep) Name() string { return StepVerify }

// Do verifies the outcomes. An interrupted verification leaves the
// outcomes unscored and marks the report incomplete.
func (s *VerifyStep) Do(ctx context.Context, report *model.Report) error {
	if report.Results == nil || report.Results.Len() == 0 {
		return nil
	}
	if err := s.verifier.Verify(ctx, report.Page, report.ResultList(), report.Outcomes); err != nil {
		report.TimedOut = true
		report.Incomplete = true
		report.AddWarning("verification interrupted: %v", err)
	}
	return nil
}
