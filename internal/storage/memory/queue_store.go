package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// CreateAccount stores a new Reddit account.
func (s *Store) CreateAccount(_ context.Context, a leadgen.WarmupAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %s: %w", a.ID, leadgen.ErrConflict)
	}
	for _, existing := range s.accounts {
		if existing.OrganizationID == a.OrganizationID && strings.EqualFold(existing.Username, a.Username) {
			return fmt.Errorf("account %s: %w", a.Username, leadgen.ErrConflict)
		}
	}
	s.accounts[a.ID] = a
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(_ context.Context, accountID string) (leadgen.WarmupAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return leadgen.WarmupAccount{}, fmt.Errorf("account %s: %w", accountID, leadgen.ErrNotFound)
	}
	return a, nil
}

// ListAccounts returns the organization's accounts ordered by username.
func (s *Store) ListAccounts(_ context.Context, orgID string) ([]leadgen.WarmupAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.WarmupAccount, 0)
	for _, a := range s.accounts {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b leadgen.WarmupAccount) int { return strings.Compare(a.Username, b.Username) })
	return out, nil
}

// ListLinkedAccounts returns the accounts of every organization sharing username.
func (s *Store) ListLinkedAccounts(_ context.Context, username string) ([]leadgen.WarmupAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.WarmupAccount, 0)
	for _, a := range s.accounts {
		if strings.EqualFold(a.Username, username) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b leadgen.WarmupAccount) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// UpdateAccount replaces an existing account.
func (s *Store) UpdateAccount(_ context.Context, a leadgen.WarmupAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return fmt.Errorf("account %s: %w", a.ID, leadgen.ErrNotFound)
	}
	s.accounts[a.ID] = a
	return nil
}

// DeleteAccount removes an account together with its queue and warm-up content.
func (s *Store) DeleteAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, leadgen.ErrNotFound)
	}
	delete(s.accounts, accountID)
	for id, item := range s.queue {
		if item.AccountID == accountID {
			delete(s.queue, id)
		}
	}
	for id, p := range s.posts {
		if p.AccountID == accountID {
			delete(s.posts, id)
		}
	}
	for id, c := range s.replies {
		if c.AccountID == accountID {
			delete(s.replies, id)
		}
	}
	return nil
}

// CreateWarmupPost stores warm-up post content.
func (s *Store) CreateWarmupPost(_ context.Context, p leadgen.WarmupPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.posts[p.ID]; exists {
		return fmt.Errorf("warmup post %s: %w", p.ID, leadgen.ErrConflict)
	}
	s.posts[p.ID] = p
	return nil
}

// CreateWarmupComment stores warm-up comment content.
func (s *Store) CreateWarmupComment(_ context.Context, c leadgen.WarmupComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.replies[c.ID]; exists {
		return fmt.Errorf("warmup comment %s: %w", c.ID, leadgen.ErrConflict)
	}
	s.replies[c.ID] = c
	return nil
}

// CreateItem stores a new queue item.
func (s *Store) CreateItem(_ context.Context, item leadgen.UnifiedQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.queue[item.ID]; exists {
		return fmt.Errorf("queue item %s: %w", item.ID, leadgen.ErrConflict)
	}
	s.queue[item.ID] = item
	return nil
}

// GetItem fetches a queue item by ID.
func (s *Store) GetItem(_ context.Context, itemID string) (leadgen.UnifiedQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.queue[itemID]
	if !ok {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("queue item %s: %w", itemID, leadgen.ErrNotFound)
	}
	return item, nil
}

// UpdateItem replaces an existing queue item.
func (s *Store) UpdateItem(_ context.Context, item leadgen.UnifiedQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queue[item.ID]; !ok {
		return fmt.Errorf("queue item %s: %w", item.ID, leadgen.ErrNotFound)
	}
	s.queue[item.ID] = item
	return nil
}

// ListItems returns the account's items ordered by scheduled time.
func (s *Store) ListItems(
	_ context.Context,
	accountID string,
	status leadgen.QueueStatus,
) ([]leadgen.UnifiedQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.UnifiedQueueItem, 0)
	for _, item := range s.queue {
		if item.AccountID != accountID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, item)
	}
	sortBySchedule(out)
	return out, nil
}

// ClaimDue marks up to limit due items as posting and returns them.
func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int) ([]leadgen.UnifiedQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]leadgen.UnifiedQueueItem, 0)
	for _, item := range s.queue {
		if item.Status == leadgen.QueueQueued && !item.ScheduledFor.After(now) {
			due = append(due, item)
		}
	}
	sortBySchedule(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = leadgen.QueuePosting
		due[i].UpdatedAt = now
		s.queue[due[i].ID] = due[i]
	}
	return due, nil
}

// CountPosted counts the account's items posted at or after since.
func (s *Store) CountPosted(_ context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.queue {
		if item.AccountID == accountID && item.Status == leadgen.QueuePosted &&
			item.PostedAt != nil && !item.PostedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// GetCooldown fetches the cooldown record for an (organization, subreddit) pair.
func (s *Store) GetCooldown(_ context.Context, orgID, subreddit string) (leadgen.SubredditCooldown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cooldowns[cooldownKey(orgID, subreddit)]
	if !ok {
		return leadgen.SubredditCooldown{}, fmt.Errorf("cooldown %s/%s: %w", orgID, subreddit, leadgen.ErrNotFound)
	}
	return c, nil
}

// PutCooldown upserts the cooldown record for a pair, never moving the
// last-posted time backwards.
func (s *Store) PutCooldown(_ context.Context, c leadgen.SubredditCooldown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cooldownKey(c.OrganizationID, c.Subreddit)
	if existing, ok := s.cooldowns[key]; ok && existing.LastPostedAt.After(c.LastPostedAt) {
		return nil
	}
	s.cooldowns[key] = c
	return nil
}

func cooldownKey(orgID, subreddit string) string {
	return orgID + "\x00" + subreddit
}

func sortBySchedule(items []leadgen.UnifiedQueueItem) {
	slices.SortFunc(items, func(a, b leadgen.UnifiedQueueItem) int {
		if n := a.ScheduledFor.Compare(b.ScheduledFor); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
}
