// Package scheduler runs the top-level crawl cycle: score branches,
// pick the best eligible one, crawl it, persist the result.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/firmendata/wko-crawler/config"
	"github.com/firmendata/wko-crawler/models"
	"github.com/firmendata/wko-crawler/rating"
	"github.com/firmendata/wko-crawler/state"
	"github.com/firmendata/wko-crawler/stepper"
)

// BranchCrawler is what the scheduler needs from the stepper.
type BranchCrawler interface {
	Crawl(ctx context.Context, branch, url string) (models.CrawlOutcome, error)
}

// Scheduler owns the continuous crawl loop.
type Scheduler struct {
	cfg      *config.Config
	branches []models.Branch
	store    *state.Store
	crawler  BranchCrawler
	metrics  *stepper.Metrics

	sleep func(time.Duration)
	now   func() time.Time
}

// New builds a scheduler over a fixed branch catalog.
func New(cfg *config.Config, branches []models.Branch, store *state.Store, crawler BranchCrawler, metrics *stepper.Metrics) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		branches: branches,
		store:    store,
		crawler:  crawler,
		metrics:  metrics,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Run executes cycles until ctx is cancelled or MaxCycles is reached.
// A failing cycle never stops the loop; it triggers a capped global
// backoff and the loop continues.
func (s *Scheduler) Run(ctx context.Context) error {
	doc, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load crawl state: %w", err)
	}

	cycle := 0
	errorStreak := 0
	for {
		if ctx.Err() != nil {
			slog.Info("scheduler stopping", slog.Int("cycles", cycle))
			return nil
		}

		cycle++
		crawled, err := s.runCycle(ctx, doc, cycle)
		if err != nil {
			errorStreak++
			wait := globalBackoff(errorStreak)
			slog.Error("cycle failed, global recovery backoff",
				slog.Int("cycle", cycle),
				slog.Duration("wait", wait),
				slog.Any("error", err),
			)
			if saveErr := s.store.Save(doc); saveErr != nil {
				slog.Error("state save failed", slog.Any("error", saveErr))
			}
			s.sleep(wait)
			continue
		}
		errorStreak = 0

		if crawled && s.cfg.MaxCycles > 0 && cycle >= s.cfg.MaxCycles {
			slog.Info("reached max cycles", slog.Int("max_cycles", s.cfg.MaxCycles))
			return nil
		}
	}
}

// runCycle performs one selection + crawl + persist round. Panics from
// deeper layers are converted into errors here so the loop's recovery
// backoff applies to them too. The crawled result reports whether a
// branch was actually attempted (false when everything is cooling down).
func (s *Scheduler) runCycle(ctx context.Context, doc *state.Document, cycle int) (crawled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected cycle fault: %v", r)
		}
	}()

	s.metrics.IncCycle()
	now := s.now()

	rows := rating.Generate(s.branches, doc.Branches, now)
	if len(rows) == 0 {
		slog.Info("no branches available", slog.Duration("sleep", s.cfg.EmptyCatalogSleep))
		s.sleep(s.cfg.EmptyCatalogSleep)
		return false, nil
	}
	if s.cfg.RatingsPath != "" {
		if err := rating.WriteDocument(s.cfg.RatingsPath, rows, now); err != nil {
			slog.Warn("ratings snapshot failed", slog.Any("error", err))
		}
	}

	selected := selectNext(rows, doc.Branches, now)
	if selected == nil {
		slog.Info("all branches cooling down", slog.Duration("sleep", s.cfg.CooldownSleep))
		s.sleep(s.cfg.CooldownSleep)
		return false, nil
	}

	slog.Info("crawling branch",
		slog.Int("cycle", cycle),
		slog.String("branch", selected.Branch),
		slog.Float64("score", selected.Score),
	)

	outcome, err := s.crawler.Crawl(ctx, selected.Branch, selected.URL)
	applyOutcome(doc.Branch(selected.Branch), outcome, s.now())
	if saveErr := s.store.Save(doc); saveErr != nil && err == nil {
		err = saveErr
	}
	if err != nil {
		return true, err
	}

	slog.Info("cycle done",
		slog.Int("cycle", cycle),
		slog.String("branch", selected.Branch),
		slog.Int("new", outcome.Inserted),
		slog.Int("steps", outcome.Steps),
		slog.Bool("denied", outcome.AccessDenied),
		slog.Bool("transient_error", outcome.TransientError),
		slog.Duration("duration", outcome.Duration),
	)
	return true, nil
}

// selectNext returns the highest-scoring branch whose cooldown has
// elapsed, or nil when every branch is still cooling down. rows must be
// sorted by score descending.
func selectNext(rows []models.RatingRow, states map[string]*models.BranchState, now time.Time) *models.RatingRow {
	for i := range rows {
		st, ok := states[rows[i].Branch]
		if ok && st != nil && st.NextAllowedAt != nil && st.NextAllowedAt.After(now) {
			continue
		}
		return &rows[i]
	}
	return nil
}

// applyOutcome folds a crawl result into the branch's durable state.
func applyOutcome(st *models.BranchState, out models.CrawlOutcome, now time.Time) {
	crawledAt := now.UTC()
	st.CrawlCount++
	st.LastRows = out.Inserted
	st.TotalRowsInserted += out.Inserted
	st.LastSteps = out.Steps
	st.LastDurationS = out.Duration.Seconds()
	st.LastCrawledAt = &crawledAt

	switch {
	case out.AccessDenied:
		st.AccessDeniedCount++
		next := crawledAt.Add(cooldown(out.Waited))
		st.NextAllowedAt = &next
	case out.TransientError:
		st.ErrorCount++
		next := crawledAt.Add(cooldown(out.Waited))
		st.NextAllowedAt = &next
	default:
		st.NextAllowedAt = nil
	}
}

// cooldown falls back to a short default when a failure path reported
// no wait.
func cooldown(waited time.Duration) time.Duration {
	if waited <= 0 {
		return 10 * time.Second
	}
	return waited
}

func globalBackoff(streak int) time.Duration {
	if streak > 10 {
		streak = 10
	}
	wait := time.Duration(1<<uint(streak)) * time.Second
	if wait > 300*time.Second {
		wait = 300 * time.Second
	}
	return wait + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}
