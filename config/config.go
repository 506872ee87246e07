package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds crawler configuration.
type Config struct {
	// Politeness and backoff.
	BaseDelay        time.Duration
	DelayJitter      time.Duration
	MaxDeniedBackoff time.Duration
	MaxErrorBackoff  time.Duration
	ErrorJitter      time.Duration

	// Per-request behaviour.
	RequestTimeout time.Duration
	MaxRetries     int
	RetrySleep     time.Duration
	UserAgent      string
	AcceptLanguage string
	Referer        string

	// Per-branch budgets.
	MaxLoadMoreSteps int
	BranchTimeBudget time.Duration

	// Scheduler pacing.
	MaxCycles         int // 0 means run forever
	EmptyCatalogSleep time.Duration
	CooldownSleep     time.Duration

	// Paths.
	CatalogPath string
	StatePath   string
	RatingsPath string
	OutputFile  string
	DedupeDir   string

	// Dedupe front cache.
	DedupeCacheSize int

	// External upsert sink.
	SupabaseBatchSize int

	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns the pacing and budget defaults tuned for the
// target directory.
func DefaultConfig() *Config {
	return &Config{
		BaseDelay:         150 * time.Millisecond,
		DelayJitter:       150 * time.Millisecond,
		MaxDeniedBackoff:  60 * time.Second,
		MaxErrorBackoff:   300 * time.Second,
		ErrorJitter:       500 * time.Millisecond,
		RequestTimeout:    6 * time.Second,
		MaxRetries:        3,
		RetrySleep:        500 * time.Millisecond,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		AcceptLanguage:    "de-AT,de;q=0.9,en;q=0.8",
		Referer:           "https://firmen.wko.at/",
		MaxLoadMoreSteps:  500,
		BranchTimeBudget:  15 * time.Minute,
		MaxCycles:         0,
		EmptyCatalogSleep: 30 * time.Second,
		CooldownSleep:     20 * time.Second,
		CatalogPath:       "data/wko_branch_catalog.json",
		StatePath:         "data/crawl_state.json",
		RatingsPath:       "data/wko_branch_ratings.json",
		OutputFile:        "data/out/companies_continuous.jsonl",
		DedupeDir:         "data/out/companies_dedupe",
		DedupeCacheSize:   100_000,
		SupabaseBatchSize: 500,
		MetricsAddr:       "",
		Verbose:           false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseDelay < 0 {
		return fmt.Errorf("base delay cannot be negative")
	}
	if c.DelayJitter < 0 {
		return fmt.Errorf("delay jitter cannot be negative")
	}
	if c.MaxDeniedBackoff <= 0 {
		return fmt.Errorf("max denied backoff must be positive")
	}
	if c.MaxErrorBackoff <= 0 {
		return fmt.Errorf("max error backoff must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.RetrySleep < 0 {
		return fmt.Errorf("retry sleep cannot be negative")
	}
	if c.MaxLoadMoreSteps <= 0 {
		return fmt.Errorf("max load-more steps must be positive")
	}
	if c.BranchTimeBudget <= 0 {
		return fmt.Errorf("branch time budget must be positive")
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("max cycles cannot be negative")
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog path cannot be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state path cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.DedupeDir == "" {
		return fmt.Errorf("dedupe directory cannot be empty")
	}
	if c.DedupeCacheSize <= 0 {
		return fmt.Errorf("dedupe cache size must be positive")
	}
	if c.SupabaseBatchSize <= 0 {
		return fmt.Errorf("supabase batch size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Referer != "" {
		parsed, err := url.Parse(c.Referer)
		if err != nil || parsed.Host == "" {
			return fmt.Errorf("referer must be a valid absolute URL")
		}
	}
	return nil
}
