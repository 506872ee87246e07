// Package backoff paces requests and reacts to denials and transient
// errors with capped exponential waits.
package backoff

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/firmendata/wko-crawler/config"
)

// Controller tracks the current session's failure streaks. The streaks
// are deliberately not persisted: they describe the live network
// session, while the long-term denial history lives in BranchState.
type Controller struct {
	baseDelay   time.Duration
	delayJitter time.Duration
	maxDenied   time.Duration
	maxError    time.Duration
	errorJitter time.Duration

	deniedStreak int
	errorStreak  int

	// Sleep performs the actual waiting. Swappable in tests.
	Sleep func(time.Duration)
}

// NewController builds a controller from the pacing configuration.
func NewController(cfg *config.Config) *Controller {
	return &Controller{
		baseDelay:   cfg.BaseDelay,
		delayJitter: cfg.DelayJitter,
		maxDenied:   cfg.MaxDeniedBackoff,
		maxError:    cfg.MaxErrorBackoff,
		errorJitter: cfg.ErrorJitter,
		Sleep:       time.Sleep,
	}
}

// BeforeRequest applies the politeness delay. It runs before every
// request regardless of failure state.
func (c *Controller) BeforeRequest() {
	c.Sleep(c.baseDelay + jitter(c.delayJitter))
}

// OnSuccess resets both streaks.
func (c *Controller) OnSuccess() {
	c.deniedStreak = 0
	c.errorStreak = 0
}

// OnDenied registers an active block, waits 2^streak seconds capped at
// the denied maximum, and returns the wait applied. A denial resets the
// error streak: blocking and transient failure are different root
// causes and must not compound.
func (c *Controller) OnDenied() time.Duration {
	c.deniedStreak++
	c.errorStreak = 0
	wait := capped(c.deniedStreak, c.maxDenied)
	slog.Warn("access denied, backing off",
		slog.Int("streak", c.deniedStreak),
		slog.Duration("wait", wait),
	)
	c.Sleep(wait)
	return wait
}

// OnError registers a transient failure, waits 2^streak seconds capped
// at the error maximum plus jitter, and returns the wait applied.
func (c *Controller) OnError(context string) time.Duration {
	c.errorStreak++
	wait := capped(c.errorStreak, c.maxError) + jitter(c.errorJitter)
	slog.Warn("request error, backing off",
		slog.String("context", context),
		slog.Int("streak", c.errorStreak),
		slog.Duration("wait", wait),
	)
	c.Sleep(wait)
	return wait
}

func capped(streak int, max time.Duration) time.Duration {
	if streak > 30 {
		streak = 30
	}
	wait := time.Duration(1<<uint(streak)) * time.Second
	if wait > max {
		wait = max
	}
	return wait
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
