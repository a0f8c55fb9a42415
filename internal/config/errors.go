package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no URL was given as argument or on stdin.
	ErrNoTarget = errors.New("no target specified: provide a URL argument or pipe URLs on stdin")

	// ErrInvalidTimeout is returned when the request timeout is not positive
	// or the run timeout is negative.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidConcurrency is returned when the concurrency limit is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidBatchSize is returned when the classifier batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidCap is returned when the per-query cap is not positive, or
	// the global cap or max total is negative.
	ErrInvalidCap = errors.New("invalid result cap: per-query cap must be positive, global cap and max total non-negative")

	// ErrInvalidMaxQueries is returned when the query limit is not positive.
	ErrInvalidMaxQueries = errors.New("invalid max queries: must be positive")

	// ErrInvalidRetry is returned when retries or backoff are negative.
	ErrInvalidRetry = errors.New("invalid retry settings: retries and backoff must be non-negative")

	// ErrInvalidPageSize is returned when the search page size is not positive.
	ErrInvalidPageSize = errors.New("invalid search page size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown are set.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidVerify is returned for a negative sample count or a
	// threshold outside [0, 1].
	ErrInvalidVerify = errors.New("invalid verification settings: samples must be non-negative, threshold within [0, 1]")

	// ErrInvalidProxy is returned when the proxy is not an http(s):// or socks5:// URL.
	ErrInvalidProxy = errors.New("invalid proxy: expected http://host:port or socks5://host:port")

	// ErrInvalidMarker is returned when a marker pattern does not compile.
	ErrInvalidMarker = errors.New("invalid marker pattern")

	// ErrMissingSearchKey is returned when no search API key is configured.
	ErrMissingSearchKey = errors.New("missing search API key: set search.api_key or FINDSIM_SEARCH_API_KEY")

	// ErrMissingLLMKey is returned when classification is enabled without an LLM API key.
	ErrMissingLLMKey = errors.New("missing LLM API key: set llm.api_key or FINDSIM_LLM_API_KEY, or use --no-analysis")
)
