package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/firmendata/wko-crawler/config"
	"github.com/firmendata/wko-crawler/models"
	"github.com/firmendata/wko-crawler/state"
)

type stubCrawler struct {
	calls    []string
	outcomes map[string]models.CrawlOutcome
}

func (c *stubCrawler) Crawl(_ context.Context, branch, _ string) (models.CrawlOutcome, error) {
	c.calls = append(c.calls, branch)
	return c.outcomes[branch], nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "crawl_state.json")
	cfg.RatingsPath = ""
	return cfg
}

func testBranches() []models.Branch {
	return []models.Branch{
		{Name: "Elektrotechnik", URL: "https://firmen.wko.at/e/elektrotechnik/", Letter: "E"},
		{Name: "Handel", URL: "https://firmen.wko.at/h/handel/", Letter: "H"},
	}
}

func newTestScheduler(cfg *config.Config, crawler BranchCrawler) *Scheduler {
	s := New(cfg, testBranches(), state.NewStore(cfg.StatePath), crawler, nil)
	s.sleep = func(time.Duration) {}
	return s
}

func TestRunStopsAtMaxCycles(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 3
	crawler := &stubCrawler{outcomes: map[string]models.CrawlOutcome{
		"Elektrotechnik": {Inserted: 10, Steps: 2, Duration: time.Second},
		"Handel":         {Inserted: 4, Steps: 1, Duration: time.Second},
	}}
	s := newTestScheduler(cfg, crawler)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(crawler.calls) != 3 {
		t.Fatalf("crawls = %d, want 3", len(crawler.calls))
	}

	doc, err := state.NewStore(cfg.StatePath).Load()
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	total := 0
	for _, st := range doc.Branches {
		total += st.CrawlCount
	}
	if total != 3 {
		t.Fatalf("persisted crawl count = %d, want 3", total)
	}
}

func TestRunAlternatesAwayFromDeniedBranch(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 2
	// The top-rated branch gets denied with a long cooldown; the next
	// cycle must pick the other branch instead of hammering it again.
	crawler := &stubCrawler{outcomes: map[string]models.CrawlOutcome{
		"Elektrotechnik": {AccessDenied: true, Waited: time.Hour},
		"Handel":         {Inserted: 2, Steps: 1},
	}}
	s := newTestScheduler(cfg, crawler)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(crawler.calls) != 2 {
		t.Fatalf("crawls = %d, want 2", len(crawler.calls))
	}
	if crawler.calls[0] != "Elektrotechnik" || crawler.calls[1] != "Handel" {
		t.Fatalf("crawl order = %v, want denied branch skipped on second cycle", crawler.calls)
	}

	doc, err := state.NewStore(cfg.StatePath).Load()
	if err != nil {
		t.Fatalf("reload state: %v", err)
	}
	st := doc.Branches["Elektrotechnik"]
	if st == nil || st.AccessDeniedCount != 1 {
		t.Fatalf("denied count not persisted: %+v", st)
	}
	if st.NextAllowedAt == nil || !st.NextAllowedAt.After(time.Now()) {
		t.Fatalf("next_allowed_at = %v, want future cooldown", st.NextAllowedAt)
	}
}

func TestRunSleepsWhenAllBranchesCoolingDown(t *testing.T) {
	cfg := testConfig(t)
	crawler := &stubCrawler{}
	s := newTestScheduler(cfg, crawler)

	future := time.Now().Add(time.Hour)
	doc, _ := s.store.Load()
	for _, b := range testBranches() {
		doc.Branch(b.Name).NextAllowedAt = &future
	}
	if err := s.store.Save(doc); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var slept []time.Duration
	s.sleep = func(d time.Duration) {
		slept = append(slept, d)
		cancel()
	}

	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(crawler.calls) != 0 {
		t.Fatalf("crawls = %d, want none while cooling down", len(crawler.calls))
	}
	if len(slept) != 1 || slept[0] != cfg.CooldownSleep {
		t.Fatalf("slept = %v, want one cooldown sleep of %v", slept, cfg.CooldownSleep)
	}
}

func TestRunRecoversFromCycleError(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 1
	crawler := &stubCrawler{outcomes: map[string]models.CrawlOutcome{
		"Elektrotechnik": {Inserted: 1, Steps: 1},
	}}
	s := newTestScheduler(cfg, crawler)

	// Fail the first crawl only; the loop must back off and retry.
	firstCall := true
	inner := crawler
	s.crawler = crawlFunc(func(ctx context.Context, branch, url string) (models.CrawlOutcome, error) {
		if firstCall {
			firstCall = false
			return models.CrawlOutcome{}, errors.New("disk full")
		}
		return inner.Crawl(ctx, branch, url)
	})

	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(slept) == 0 || slept[0] < 2*time.Second {
		t.Fatalf("slept = %v, want a recovery backoff of at least 2s first", slept)
	}
	if len(inner.calls) != 1 {
		t.Fatalf("crawls after recovery = %d, want 1", len(inner.calls))
	}
}

type crawlFunc func(ctx context.Context, branch, url string) (models.CrawlOutcome, error)

func (f crawlFunc) Crawl(ctx context.Context, branch, url string) (models.CrawlOutcome, error) {
	return f(ctx, branch, url)
}

func TestSelectNextSkipsCoolingBranches(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	rows := []models.RatingRow{
		{Branch: "A", Score: 5},
		{Branch: "B", Score: 3},
		{Branch: "C", Score: 1},
	}
	states := map[string]*models.BranchState{
		"A": {NextAllowedAt: &future},
		"B": {NextAllowedAt: &past},
	}

	got := selectNext(rows, states, now)
	if got == nil || got.Branch != "B" {
		t.Fatalf("selected = %+v, want B (highest score past its cooldown)", got)
	}

	states["B"].NextAllowedAt = &future
	got = selectNext(rows, states, now)
	if got == nil || got.Branch != "C" {
		t.Fatalf("selected = %+v, want C", got)
	}

	states["C"] = &models.BranchState{NextAllowedAt: &future}
	if got = selectNext(rows, states, now); got != nil {
		t.Fatalf("selected = %+v, want nil when everything cools down", got)
	}
}

func TestApplyOutcome(t *testing.T) {
	now := time.Now()

	t.Run("success clears cooldown", func(t *testing.T) {
		st := &models.BranchState{NextAllowedAt: &now}
		applyOutcome(st, models.CrawlOutcome{Inserted: 7, Steps: 3, Duration: 2 * time.Second}, now)
		if st.CrawlCount != 1 || st.LastRows != 7 || st.TotalRowsInserted != 7 || st.LastSteps != 3 {
			t.Fatalf("state = %+v", st)
		}
		if st.LastDurationS != 2 {
			t.Fatalf("last_duration_s = %v, want 2", st.LastDurationS)
		}
		if st.NextAllowedAt != nil {
			t.Fatal("success must clear next_allowed_at")
		}
	})

	t.Run("denied sets cooldown from waited", func(t *testing.T) {
		st := &models.BranchState{}
		applyOutcome(st, models.CrawlOutcome{AccessDenied: true, Waited: 30 * time.Second}, now)
		if st.AccessDeniedCount != 1 {
			t.Fatalf("denied count = %d", st.AccessDeniedCount)
		}
		want := now.UTC().Add(30 * time.Second)
		if st.NextAllowedAt == nil || !st.NextAllowedAt.Equal(want) {
			t.Fatalf("next_allowed_at = %v, want %v", st.NextAllowedAt, want)
		}
	})

	t.Run("transient error uses fallback cooldown", func(t *testing.T) {
		st := &models.BranchState{}
		applyOutcome(st, models.CrawlOutcome{TransientError: true}, now)
		if st.ErrorCount != 1 {
			t.Fatalf("error count = %d", st.ErrorCount)
		}
		want := now.UTC().Add(10 * time.Second)
		if st.NextAllowedAt == nil || !st.NextAllowedAt.Equal(want) {
			t.Fatalf("next_allowed_at = %v, want fallback %v", st.NextAllowedAt, want)
		}
	})
}
