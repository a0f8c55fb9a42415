// Package model defines the data structures shared by every findsim stage.
//
// This package contains the following main types:
//   - Page: a fetched target page together with its sub-resources
//   - Fingerprint and CandidateSet: normalized, deduplicated site features
//   - Verdict: the generic/distinctive label assigned to a fingerprint
//   - Query and QueryOutcome: a compiled search query and how its execution ended
//   - SearchResult and ResultSet: hosts returned by the search engine, deduplicated
//   - Report: everything collected for one target URL
//
// Models live in their own package so that the extractor, classifier,
// compiler, search aggregator and report writers can share them without
// import cycles. All of them serialize to JSON for the structured report.
package model
