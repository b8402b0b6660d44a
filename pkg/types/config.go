package types

import "time"

// HTTPConfig holds shared HTTP settings used by sources that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "harvest-engine/0.1"). Per prd010-harvester R5.2.
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// HarvestConfig holds settings for the harvest scheduler and its sources.
// Per prd010-harvester R2.1-R2.7, R5.1-R5.6. Every option affects timing or
// concurrency only, never the correctness of extraction.
type HarvestConfig struct {
	HTTPConfig `yaml:",inline"`

	// TargetCount is the total number of unique records to collect across
	// all jobs (default 200).
	TargetCount int `json:"target_count" yaml:"target_count"`

	// Parallelism is the worker pool size (default 4).
	Parallelism int `json:"parallelism" yaml:"parallelism"`

	// MaxRetries bounds transient-error retries per page (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// BaseDelay is the first backoff delay (default 2s).
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps the backoff delay (default 60s).
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	// PageSize is the page size for offset-mode sources (default 100;
	// the SERP source always uses its native page size of 10).
	PageSize int `json:"page_size" yaml:"page_size"`

	// MinRequestInterval is the minimum spacing between requests to the
	// same source (default 1s).
	MinRequestInterval time.Duration `json:"min_request_interval" yaml:"min_request_interval"`

	// MaxConcurrentRequests bounds in-flight requests per source.
	// Zero means no slot limit beyond the worker pool itself.
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	// YearFrom and YearTo bound year-partitioned sources (arXiv). When
	// both are zero a single unpartitioned job is built.
	YearFrom int `json:"year_from" yaml:"year_from"`
	YearTo   int `json:"year_to" yaml:"year_to"`

	// EnableArxiv controls whether the arXiv source is used.
	EnableArxiv bool `json:"enable_arxiv" yaml:"enable_arxiv"`

	// EnableSemanticScholar controls whether the Semantic Scholar source is used.
	EnableSemanticScholar bool `json:"enable_semantic_scholar" yaml:"enable_semantic_scholar"`

	// EnableOpenAlex controls whether the OpenAlex source is used.
	EnableOpenAlex bool `json:"enable_openalex" yaml:"enable_openalex"`

	// EnableScholar controls whether the Google Scholar SERP source is used.
	EnableScholar bool `json:"enable_scholar" yaml:"enable_scholar"`

	// SemanticScholarAPIKey is an optional API key for higher rate limits.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty"`

	// OpenAlexEmail is sent as the mailto parameter for polite pool access.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty"`
}

// StoreConfig holds settings for the persistence sink.
// Per prd011-store R1.1-R1.3.
type StoreConfig struct {
	// DataDir is the base directory for harvest output (contains index/,
	// manifests/, and exports).
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Harvest HarvestConfig `json:"harvest" yaml:"harvest"`
	Store   StoreConfig   `json:"store" yaml:"store"`
}
