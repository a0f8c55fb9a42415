package model

import (
	"fmt"
	"sync"
	"time"
)

// Report is everything collected while processing one target URL.
// Pipeline steps fill it in order; report writers read it.
type Report struct {
	// RunID identifies the invocation the report belongs to.
	RunID string `json:"run_id,omitempty"`

	// Target is the input URL.
	Target string `json:"target"`

	// StartedAt is when processing of the target started.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when processing of the target ended.
	FinishedAt time.Time `json:"finished_at"`

	// Page is the fetched target page.
	Page *Page `json:"page,omitempty"`

	// Candidates are the extracted fingerprints.
	Candidates *CandidateSet `json:"candidates,omitempty"`

	// Verdicts are the classifier's labels, one per candidate, same order.
	Verdicts []Verdict `json:"verdicts,omitempty"`

	// Distinctive are the fingerprints that survived filtering.
	Distinctive []Fingerprint `json:"distinctive,omitempty"`

	// Queries are the compiled queries.
	Queries []Query `json:"queries,omitempty"`

	// Outcomes record the execution of each query, same order as Queries.
	Outcomes []QueryOutcome `json:"outcomes,omitempty"`

	// Results is the deduplicated host set.
	Results *ResultSet `json:"results,omitempty"`

	// ClassifierDegraded is true when some verdicts were fail-open defaults.
	ClassifierDegraded bool `json:"classifier_degraded,omitempty"`

	// Incomplete is true when some query did not finish or the run timed out.
	Incomplete bool `json:"incomplete,omitempty"`

	// TimedOut is true when the run timeout expired during processing.
	TimedOut bool `json:"timed_out,omitempty"`

	// Steps lists the pipeline steps that ran.
	Steps []string `json:"steps,omitempty"`

	// Warnings are non-fatal problems met along the way.
	Warnings []string `json:"warnings,omitempty"`

	// Error is the pipeline-fatal error, if any.
	Error error `json:"-"`

	// ErrorMessage is Error rendered for serialization.
	ErrorMessage string `json:"error,omitempty"`

	mu sync.Mutex
}

// NewReport creates a Report for target.
func NewReport(target string) *Report {
	return &Report{
		Target:    target,
		StartedAt: time.Now(),
		Warnings:  make([]string, 0),
	}
}

// AddWarning records a non-fatal problem. It is safe for concurrent use.
func (r *Report) AddWarning(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// SetError records the pipeline-fatal error.
func (r *Report) SetError(err error) {
	r.Error = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}

// Failed reports whether processing stopped on a fatal error.
func (r *Report) Failed() bool {
	return r.Error != nil
}

// Succeeded reports whether at least one query produced usable results.
// A query the run timeout cut short after its first page counts.
func (r *Report) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Usable() {
			return true
		}
	}
	return false
}

// TooBroadQueries returns the outcomes dropped for matching too many records.
func (r *Report) TooBroadQueries() []QueryOutcome {
	out := make([]QueryOutcome, 0)
	for _, o := range r.Outcomes {
		if o.State == QueryTooBroad {
			out = append(out, o)
		}
	}
	return out
}

// Hosts returns the result host keys in insertion order.
func (r *Report) Hosts() []string {
	if r.Results == nil {
		return nil
	}
	return r.Results.Hosts()
}

// ResultList returns the results in insertion order.
func (r *Report) ResultList() []SearchResult {
	if r.Results == nil {
		return nil
	}
	return r.Results.Results()
}

// IncompleteQueries returns the outcomes that did not finish normally.
func (r *Report) IncompleteQueries() []QueryOutcome {
	out := make([]QueryOutcome, 0)
	for _, o := range r.Outcomes {
		if o.State.Incomplete() {
			out = append(out, o)
		}
	}
	return out
}

// Duration returns how long processing took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
