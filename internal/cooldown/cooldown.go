// Package cooldown enforces a minimum delay between posts by one organization
// in one subreddit. State is a single record per (organization, subreddit)
// pair held in a leadgen.CooldownStore.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
)

// DefaultWindow is the cooldown applied when none is configured.
const DefaultWindow = 24 * time.Hour

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed bool
	RetryAt time.Time
}

// Limiter checks and records subreddit activity.
type Limiter struct {
	store  leadgen.CooldownStore
	clock  leadgen.Clock
	window time.Duration
}

// New creates a Limiter. A non-positive window falls back to DefaultWindow.
func New(store leadgen.CooldownStore, clock leadgen.Clock, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, clock: clock, window: window}
}

// Window returns the configured cooldown.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check reports whether orgID may post in subreddit now.
func (l *Limiter) Check(ctx context.Context, orgID, subreddit string) (Decision, error) {
	sub := NormalizeSubreddit(subreddit)
	if sub == "" {
		return Decision{Allowed: true}, nil
	}
	rec, err := l.store.GetCooldown(ctx, orgID, sub)
	if errors.Is(err, leadgen.ErrNotFound) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("get cooldown: %w", err)
	}
	retryAt := rec.LastPostedAt.Add(l.window)
	if l.clock.Now().Before(retryAt) {
		metrics.ObserveCooldownHit(sub)
		return Decision{Allowed: false, RetryAt: retryAt}, nil
	}
	return Decision{Allowed: true}, nil
}

// Record stores at as the latest post time for the pair.
func (l *Limiter) Record(ctx context.Context, orgID, subreddit string, at time.Time) error {
	sub := NormalizeSubreddit(subreddit)
	if sub == "" {
		return nil
	}
	if err := l.store.PutCooldown(ctx, leadgen.SubredditCooldown{
		OrganizationID: orgID,
		Subreddit:      sub,
		LastPostedAt:   at,
	}); err != nil {
		return fmt.Errorf("put cooldown: %w", err)
	}
	return nil
}

// NormalizeSubreddit lowercases a subreddit name and strips any r/ prefix.
func NormalizeSubreddit(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, "r/")
	return strings.Trim(name, "/")
}
