package model

import "slices"

// Query is a compiled search-engine query and the fingerprints it came from.
type Query struct {
	// Text is the query in the search engine's syntax.
	Text string `json:"text"`

	// Refs are the fingerprints the query was derived from.
	Refs []Fingerprint `json:"refs"`

	// Broad is true when the query rests on a single weak fingerprint
	// because nothing stronger was available to pair it with.
	Broad bool `json:"broad,omitempty"`
}

// QueryState describes how the execution of a query ended.
type QueryState int

const (
	// QueryPending means the query has not been executed yet.
	QueryPending QueryState = iota

	// QueryCompleted means every page was consumed.
	QueryCompleted

	// QueryCapped means a per-query or global result cap stopped pagination.
	QueryCapped

	// QueryPartial means retries were exhausted after at least one page.
	QueryPartial

	// QueryFailed means no page could be fetched.
	QueryFailed

	// QueryCancelled means the run timeout or cancellation interrupted the query.
	QueryCancelled

	// QueryTooBroad means the engine reported too many matches for the
	// query to be useful. Its records are not aggregated.
	QueryTooBroad
)

// String returns the state name.
func (s QueryState) String() string {
	switch s {
	case QueryPending:
		return "pending"
	case QueryCompleted:
		return "completed"
	case QueryCapped:
		return "capped"
	case QueryPartial:
		return "partial"
	case QueryFailed:
		return "failed"
	case QueryCancelled:
		return "cancelled"
	case QueryTooBroad:
		return "too_broad"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s QueryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Succeeded reports whether the query ran to a normal stop.
func (s QueryState) Succeeded() bool {
	return s == QueryCompleted || s == QueryCapped
}

// Incomplete reports whether the query stopped before it could finish.
func (s QueryState) Incomplete() bool {
	return s == QueryPartial || s == QueryFailed || s == QueryCancelled
}

// QueryOutcome records the execution of one query.
type QueryOutcome struct {
	// Query is the executed query.
	Query Query `json:"query"`

	// State is how the execution ended.
	State QueryState `json:"state"`

	// Pages is the number of pages consumed.
	Pages int `json:"pages"`

	// Records is the number of raw records consumed.
	Records int `json:"records"`

	// NewHosts is the number of hosts this query added to the result set.
	NewHosts int `json:"new_hosts"`

	// Total is the engine's reported match count, when known.
	Total int `json:"total,omitempty"`

	// Retries is the number of retried page requests.
	Retries int `json:"retries,omitempty"`

	// Err is the last error seen, if any.
	Err error `json:"-"`

	// ErrorMessage is Err rendered for serialization.
	ErrorMessage string `json:"error,omitempty"`

	// Similarity is the average similarity of sampled result sites with
	// the target. Set only when verification ran.
	Similarity *float64 `json:"similarity,omitempty"`

	// Verified is set when verification ran; true when Similarity reached
	// the threshold.
	Verified *bool `json:"verified,omitempty"`
}

// Usable reports whether the outcome contributed results: the query ran
// to a normal stop, or it was cancelled after consuming a page.
func (o QueryOutcome) Usable() bool {
	return o.State.Succeeded() || (o.State == QueryCancelled && o.Pages > 0)
}

// SortByTotal orders outcomes by the engine's match count, fewest first.
// Outcomes that never received a page keep their relative order after
// the others.
func SortByTotal(outcomes []QueryOutcome) {
	slices.SortStableFunc(outcomes, func(a, b QueryOutcome) int {
		switch ca, cb := a.Pages > 0, b.Pages > 0; {
		case ca && cb:
			return a.Total - b.Total
		case ca:
			return -1
		case cb:
			return 1
		default:
			return 0
		}
	})
}

// SetError records err on the outcome.
func (o *QueryOutcome) SetError(err error) {
	o.Err = err
	if err != nil {
		o.ErrorMessage = err.Error()
	}
}
