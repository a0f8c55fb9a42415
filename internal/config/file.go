package config

import "time"

// LLMSection is the llm: block of the configuration file.
type LLMSection struct {
	APIKey      string   `yaml:"api_key,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	BatchSize   int      `yaml:"batch_size,omitempty"`
}

// SearchSection is the search: block of the configuration file.
type SearchSection struct {
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	PageSize    int           `yaml:"page_size,omitempty"`
	Fields      []string      `yaml:"fields,omitempty"`
	Rate        float64       `yaml:"rate,omitempty"`
	PerQueryCap int           `yaml:"per_query_cap,omitempty"`
	GlobalCap   *int          `yaml:"global_cap,omitempty"`
	MaxTotal    *int          `yaml:"max_total,omitempty"`
	MaxRetries  *int          `yaml:"max_retries,omitempty"`
	Backoff     time.Duration `yaml:"backoff,omitempty"`
}

// ExtractSection is the extract: block of the configuration file.
type ExtractSection struct {
	Headers         []string `yaml:"headers,omitempty"`
	Markers         []Marker `yaml:"markers,omitempty"`
	IncludePaths    *bool    `yaml:"include_paths,omitempty"`
	MaxSubResources int      `yaml:"max_sub_resources,omitempty"`
	UserAgent       string   `yaml:"user_agent,omitempty"`
	Proxy           string   `yaml:"proxy,omitempty"`
}

// QuerySection is the query: block of the configuration file.
type QuerySection struct {
	MaxQueries      int               `yaml:"max_queries,omitempty"`
	MinStrongLength int               `yaml:"min_strong_length,omitempty"`
	Fields          map[string]string `yaml:"fields,omitempty"`
}

// File represents the structure of the .findsim configuration file.
// Every field is optional; unset fields keep their current value.
type File struct {
	LLM         LLMSection     `yaml:"llm,omitempty"`
	Search      SearchSection  `yaml:"search,omitempty"`
	Extract     ExtractSection `yaml:"extract,omitempty"`
	Query       QuerySection   `yaml:"query,omitempty"`
	Concurrency int            `yaml:"concurrency,omitempty"`
}

// Apply copies the values set in the file onto cfg.
func (f *File) Apply(cfg *Config) {
	if f == nil {
		return
	}

	setString(&cfg.LLMAPIKey, f.LLM.APIKey)
	setString(&cfg.LLMBaseURL, f.LLM.BaseURL)
	setString(&cfg.LLMModel, f.LLM.Model)
	if f.LLM.Temperature != nil {
		cfg.LLMTemperature = *f.LLM.Temperature
	}
	setInt(&cfg.LLMMaxTokens, f.LLM.MaxTokens)
	setInt(&cfg.BatchSize, f.LLM.BatchSize)

	setString(&cfg.SearchAPIKey, f.Search.APIKey)
	setString(&cfg.SearchBaseURL, f.Search.BaseURL)
	setInt(&cfg.SearchPageSize, f.Search.PageSize)
	if len(f.Search.Fields) > 0 {
		cfg.SearchFields = f.Search.Fields
	}
	if f.Search.Rate > 0 {
		cfg.SearchRate = f.Search.Rate
	}
	setInt(&cfg.PerQueryCap, f.Search.PerQueryCap)
	if f.Search.GlobalCap != nil {
		cfg.GlobalCap = *f.Search.GlobalCap
	}
	if f.Search.MaxTotal != nil {
		cfg.MaxTotal = *f.Search.MaxTotal
	}
	if f.Search.MaxRetries != nil {
		cfg.MaxRetries = *f.Search.MaxRetries
	}
	if f.Search.Backoff > 0 {
		cfg.Backoff = f.Search.Backoff
	}

	if len(f.Extract.Headers) > 0 {
		cfg.HeaderAllowList = f.Extract.Headers
	}
	if len(f.Extract.Markers) > 0 {
		cfg.Markers = f.Extract.Markers
	}
	if f.Extract.IncludePaths != nil {
		cfg.IncludePaths = *f.Extract.IncludePaths
	}
	setInt(&cfg.MaxSubResources, f.Extract.MaxSubResources)
	setString(&cfg.UserAgent, f.Extract.UserAgent)
	setString(&cfg.ProxyURL, f.Extract.Proxy)

	setInt(&cfg.MaxQueries, f.Query.MaxQueries)
	setInt(&cfg.MinStrongLength, f.Query.MinStrongLength)
	if len(f.Query.Fields) > 0 {
		if cfg.FieldMap == nil {
			cfg.FieldMap = make(map[string]string)
		}
		for k, v := range f.Query.Fields {
			cfg.FieldMap[k] = v
		}
	}

	setInt(&cfg.Concurrency, f.Concurrency)
}

// Environment variables that override credentials from the file.
const (
	EnvLLMAPIKey    = "FINDSIM_LLM_API_KEY"
	EnvSearchAPIKey = "FINDSIM_SEARCH_API_KEY"
)

// ApplyEnv copies credentials from the environment onto cfg.
// getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	setString(&cfg.LLMAPIKey, getenv(EnvLLMAPIKey))
	setString(&cfg.SearchAPIKey, getenv(EnvSearchAPIKey))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
