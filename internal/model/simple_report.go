package model

import "time"

// Status is the overall result of processing one target.
type Status string

const (
	// StatusOK means at least one query ran to a normal stop.
	StatusOK Status = "ok"

	// StatusIncomplete means results exist but some query or the run was cut short.
	StatusIncomplete Status = "incomplete"

	// StatusFailed means processing stopped on a fatal error or every query failed.
	StatusFailed Status = "failed"
)

// SimpleReport is the condensed view of a Report used by the plain and
// markdown writers.
type SimpleReport struct {
	// Target is the input URL.
	Target string `json:"target"`

	// DateScanned is when processing started.
	DateScanned time.Time `json:"date_scanned"`

	// Status is the overall result.
	Status Status `json:"status"`

	// Candidates is the number of extracted fingerprints.
	Candidates int `json:"candidates"`

	// Generic is the number of fingerprints classified generic.
	Generic int `json:"generic"`

	// Distinctive is the number of fingerprints kept.
	Distinctive int `json:"distinctive"`

	// Queries is the number of compiled queries.
	Queries int `json:"queries"`

	// SucceededQueries is the number of queries that ran to a normal stop.
	SucceededQueries int `json:"succeeded_queries"`

	// IncompleteQueries lists the texts of queries that did not finish.
	IncompleteQueries []string `json:"incomplete_queries,omitempty"`

	// TooBroadQueries lists the texts of queries whose results were
	// dropped for matching too many records.
	TooBroadQueries []string `json:"too_broad_queries,omitempty"`

	// Hosts lists the result URLs in insertion order.
	Hosts []string `json:"hosts"`

	// Error is the fatal error message, if any.
	Error string `json:"error,omitempty"`
}

// NewSimpleReport condenses report.
func NewSimpleReport(report *Report) *SimpleReport {
	simple := &SimpleReport{
		Target:      report.Target,
		DateScanned: report.StartedAt,
		Distinctive: len(report.Distinctive),
		Queries:     len(report.Queries),
		Hosts:       make([]string, 0),
		Error:       report.ErrorMessage,
	}

	if report.Candidates != nil {
		simple.Candidates = report.Candidates.Len()
	}
	for _, v := range report.Verdicts {
		if v.Label == LabelGeneric {
			simple.Generic++
		}
	}
	for _, o := range report.Outcomes {
		if o.State.Succeeded() {
			simple.SucceededQueries++
		}
		if o.State.Incomplete() {
			simple.IncompleteQueries = append(simple.IncompleteQueries, o.Query.Text)
		}
		if o.State == QueryTooBroad {
			simple.TooBroadQueries = append(simple.TooBroadQueries, o.Query.Text)
		}
	}
	for _, r := range report.ResultList() {
		simple.Hosts = append(simple.Hosts, r.URL)
	}

	switch {
	case report.Failed():
		simple.Status = StatusFailed
	case simple.SucceededQueries == 0 && len(simple.Hosts) == 0:
		simple.Status = StatusFailed
		switch {
		case len(report.Outcomes) > 0 && len(simple.TooBroadQueries) == len(report.Outcomes):
			simple.Error = "every query matched too many records"
		case len(report.Outcomes) > 0:
			simple.Error = "all queries failed"
		default:
			simple.Error = "no query executed"
		}
	case report.Incomplete || report.TimedOut || len(simple.IncompleteQueries) > 0:
		simple.Status = StatusIncomplete
	default:
		simple.Status = StatusOK
	}

	return simple
}
