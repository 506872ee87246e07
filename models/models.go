// Package models defines data structures for the crawler.
package models

import "time"

// Branch is one business-directory category as discovered by the
// catalog builder. Immutable once loaded; the scheduler never writes it.
type Branch struct {
	Name   string `json:"branche"`
	URL    string `json:"url"`
	Letter string `json:"letter,omitempty"`
}

// BranchState accumulates per-branch crawl statistics across cycles.
// Keyed by branch name in the crawl state document; counters only grow.
type BranchState struct {
	CrawlCount        int        `json:"crawl_count"`
	LastRows          int        `json:"last_rows"`
	TotalRowsInserted int        `json:"total_rows_inserted"`
	LastSteps         int        `json:"last_steps"`
	LastDurationS     float64    `json:"last_duration_s"`
	LastCrawledAt     *time.Time `json:"last_crawled_at,omitempty"`
	AccessDeniedCount int        `json:"access_denied_count,omitempty"`
	ErrorCount        int        `json:"error_count,omitempty"`
	NextAllowedAt     *time.Time `json:"next_allowed_at,omitempty"`
}

// RatingRow is the per-cycle priority view of a branch. Derived from
// Branch plus BranchState; the snapshot file is purely observational.
type RatingRow struct {
	Branch        string     `json:"branche"`
	URL           string     `json:"url"`
	Score         float64    `json:"score"`
	CrawlCount    int        `json:"crawl_count"`
	LastRows      int        `json:"last_rows"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
}

// Record is one directory listing entry extracted from a result card.
type Record struct {
	Branch        string    `json:"branche"`
	Name          string    `json:"name,omitempty"`
	DetailURL     string    `json:"wko_detail_url,omitempty"`
	Website       string    `json:"company_website,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Street        string    `json:"street,omitempty"`
	ZipCity       string    `json:"zip_city,omitempty"`
	SourceListURL string    `json:"source_list_url"`
	CrawledAt     time.Time `json:"crawled_at"`
}

// CrawlOutcome reports how one branch crawl ended. Expected failures
// (denial, transient network trouble) are flags here, not errors.
type CrawlOutcome struct {
	Inserted       int
	Steps          int
	AccessDenied   bool
	TransientError bool
	Waited         time.Duration
	Duration       time.Duration
}
