// Package search executes compiled queries against an asset search engine
// and aggregates the returned hosts.
//
// API is the engine seam; FOFAClient implements it for FOFA. Aggregator
// paginates each query under per-query and global caps, retries rate
// limits and server errors with exponential backoff, and deduplicates
// hosts into a model.ResultSet that remembers which queries found them.
package search
