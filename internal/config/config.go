package config

import (
	"net/url"
	"path/filepath"
	"regexp"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "findsim"

	// DefaultTimeout bounds each individual HTTP request.
	DefaultTimeout = 10 * time.Second

	// DefaultRunTimeout bounds the whole invocation. On expiry the results
	// aggregated so far are returned and the run is marked incomplete.
	DefaultRunTimeout = 10 * time.Minute

	// DefaultConcurrency is the worker pool size for fetches, classification
	// batches, queries and targets.
	DefaultConcurrency = 5

	// DefaultPerQueryCap is the number of raw records consumed per query.
	DefaultPerQueryCap = 100

	// DefaultGlobalCap is the number of distinct hosts kept per target.
	DefaultGlobalCap = 1000

	// DefaultMaxTotal is the engine match count from which a query is too
	// broad and its results are dropped.
	DefaultMaxTotal = 5000

	// DefaultBatchSize is the number of fingerprints sent to the classifier at once.
	DefaultBatchSize = 40

	// DefaultMaxRetries is the number of retries for a failed search page request.
	DefaultMaxRetries = 3

	// DefaultBackoff is the first retry delay; it doubles on each retry.
	DefaultBackoff = 2 * time.Second

	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultMaxQueries bounds the number of compiled queries per target.
	DefaultMaxQueries = 10

	// DefaultUserAgent is sent with page and asset requests.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// DefaultMaxBodySize limits page and asset bodies.
	DefaultMaxBodySize = 5 * 1024 * 1024 // 5MB

	// DefaultMaxSubResources limits the assets fetched per page.
	DefaultMaxSubResources = 50

	// DefaultLLMBaseURL is the DeepSeek OpenAI-compatible endpoint.
	DefaultLLMBaseURL = "https://api.deepseek.com"

	// DefaultLLMModel is the chat model used for classification.
	DefaultLLMModel = "deepseek-chat"

	// DefaultLLMTemperature keeps the classifier's answers stable.
	DefaultLLMTemperature = 0.3

	// DefaultLLMMaxTokens bounds the classifier's answer.
	DefaultLLMMaxTokens = 2000

	// DefaultSearchBaseURL is the FOFA API endpoint.
	DefaultSearchBaseURL = "https://fofa.info"

	// DefaultSearchPageSize is the number of records requested per page.
	DefaultSearchPageSize = 100

	// DefaultSearchRate is the number of search requests per second.
	DefaultSearchRate = 1.0

	// DefaultVerifyThreshold is the average similarity a verified query must reach.
	DefaultVerifyThreshold = 0.5

	// DefaultMinStrongLength is the rune length from which a plain string
	// fingerprint is considered strong enough to be queried alone.
	DefaultMinStrongLength = 24
)

// DefaultHeaderAllowList lists the response headers whose values are
// fingerprinted. Headers that carry no deployment signal, such as
// Content-Type or Date, are deliberately absent.
var DefaultHeaderAllowList = []string{
	"Server",
	"X-Powered-By",
	"X-Generator",
	"X-AspNet-Version",
	"X-AspNetMvc-Version",
	"X-Runtime",
	"X-Drupal-Cache",
	"X-Backend-Server",
}

// DefaultSearchFields are the FOFA fields requested for each record.
var DefaultSearchFields = []string{"host", "ip", "port", "protocol", "title"}

// Marker is a named pattern whose matches in the page body become
// exact-string fingerprints. The first capture group is used when present.
type Marker struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Config holds all configuration options for findsim.
// It is filled from defaults, the config file, the environment and CLI
// flags, in that order, and passed explicitly to every component.
type Config struct {
	// LLMAPIKey authenticates against the language-model API.
	LLMAPIKey string

	// LLMBaseURL is the OpenAI-compatible API base URL.
	LLMBaseURL string

	// LLMModel is the chat model name.
	LLMModel string

	// LLMTemperature is the sampling temperature.
	LLMTemperature float64

	// LLMMaxTokens bounds the model's answer.
	LLMMaxTokens int

	// SearchAPIKey authenticates against the asset-search API.
	SearchAPIKey string

	// SearchBaseURL is the asset-search API base URL.
	SearchBaseURL string

	// SearchPageSize is the number of records per page.
	SearchPageSize int

	// SearchFields are the record fields requested from the engine.
	SearchFields []string

	// SearchRate is the maximum number of search requests per second.
	SearchRate float64

	// Concurrency is the worker pool size.
	Concurrency int

	// PerQueryCap stops a query after this many raw records.
	PerQueryCap int

	// GlobalCap stops all queries of a target after this many distinct hosts.
	// Zero means unlimited.
	GlobalCap int

	// MaxTotal drops a query whose engine match count reaches it.
	// Zero disables the check.
	MaxTotal int

	// BatchSize is the maximum number of fingerprints per classifier request.
	BatchSize int

	// MaxRetries is the number of retries for a retryable search error.
	MaxRetries int

	// Backoff is the first retry delay.
	Backoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// MaxQueries bounds the number of compiled queries.
	MaxQueries int

	// MinStrongLength is the rune length from which a plain string is strong.
	MinStrongLength int

	// FieldMap overrides the search field used for a fingerprint source
	// category (favicon, script, stylesheet, image, title, meta, header,
	// marker, path, path:script).
	FieldMap map[string]string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// RunTimeout bounds the whole invocation.
	RunTimeout time.Duration

	// ProxyURL routes page and asset fetches through an http:// or socks5:// proxy.
	ProxyURL string

	// UserAgent is sent with page and asset requests.
	UserAgent string

	// MaxBodySize limits page and asset bodies.
	MaxBodySize int64

	// MaxSubResources limits the assets fetched per page.
	MaxSubResources int

	// HeaderAllowList lists the fingerprinted response headers.
	HeaderAllowList []string

	// Markers are the configured marker patterns.
	Markers []Marker

	// IncludePaths adds same-origin script and stylesheet paths as fingerprints.
	IncludePaths bool

	// NoAnalysis skips the classifier and keeps every fingerprint.
	NoAnalysis bool

	// VerifySamples is the number of result sites per query re-fingerprinted
	// for verification. Zero disables verification.
	VerifySamples int

	// VerifyThreshold is the average similarity a verified query must reach.
	VerifyThreshold float64

	// JSONReport selects structured JSON output.
	JSONReport bool

	// MarkdownReport selects Markdown output.
	MarkdownReport bool

	// ReportFile writes the report to a file instead of stdout.
	ReportFile string

	// LogFile writes logs to a rotated file instead of stderr.
	LogFile string

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the explicit config file path, if any.
	ConfigFilePath string

	// Targets are the URLs to process.
	Targets []string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		LLMBaseURL:      DefaultLLMBaseURL,
		LLMModel:        DefaultLLMModel,
		LLMTemperature:  DefaultLLMTemperature,
		LLMMaxTokens:    DefaultLLMMaxTokens,
		SearchBaseURL:   DefaultSearchBaseURL,
		SearchPageSize:  DefaultSearchPageSize,
		SearchFields:    append([]string(nil), DefaultSearchFields...),
		SearchRate:      DefaultSearchRate,
		Concurrency:     DefaultConcurrency,
		PerQueryCap:     DefaultPerQueryCap,
		GlobalCap:       DefaultGlobalCap,
		MaxTotal:        DefaultMaxTotal,
		BatchSize:       DefaultBatchSize,
		MaxRetries:      DefaultMaxRetries,
		Backoff:         DefaultBackoff,
		MaxBackoff:      DefaultMaxBackoff,
		MaxQueries:      DefaultMaxQueries,
		MinStrongLength: DefaultMinStrongLength,
		FieldMap:        make(map[string]string),
		Timeout:         DefaultTimeout,
		RunTimeout:      DefaultRunTimeout,
		UserAgent:       DefaultUserAgent,
		MaxBodySize:     DefaultMaxBodySize,
		MaxSubResources: DefaultMaxSubResources,
		HeaderAllowList: append([]string(nil), DefaultHeaderAllowList...),
		IncludePaths:    true,
		VerifyThreshold: DefaultVerifyThreshold,
	}
}

// XDGConfigDir returns the XDG config directory for findsim.
// On Linux: ~/.config/findsim
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.Timeout <= 0 || c.RunTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if c.PerQueryCap <= 0 || c.GlobalCap < 0 || c.MaxTotal < 0 {
		return ErrInvalidCap
	}
	if c.MaxQueries <= 0 {
		return ErrInvalidMaxQueries
	}
	if c.MaxRetries < 0 || c.Backoff < 0 {
		return ErrInvalidRetry
	}
	if c.SearchPageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if c.VerifySamples < 0 || c.VerifyThreshold < 0 || c.VerifyThreshold > 1 {
		return ErrInvalidVerify
	}
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil || u.Host == "" {
			return ErrInvalidProxy
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return ErrInvalidProxy
		}
	}
	for _, m := range c.Markers {
		if _, err := regexp.Compile(m.Pattern); err != nil || m.Pattern == "" {
			return ErrInvalidMarker
		}
	}
	if c.SearchAPIKey == "" {
		return ErrMissingSearchKey
	}
	if !c.NoAnalysis && c.LLMAPIKey == "" {
		return ErrMissingLLMKey
	}
	return nil
}
