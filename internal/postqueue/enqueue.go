package postqueue

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/cooldown"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
)

// EnqueueComment schedules a lead reply to a thread.
func (s *Service) EnqueueComment(
	ctx context.Context,
	orgID, accountID, threadID, subreddit, text string,
) (leadgen.UnifiedQueueItem, error) {
	if threadID == "" || strings.TrimSpace(text) == "" {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("comment needs a thread and text: %w", leadgen.ErrInvalid)
	}
	return s.enqueue(ctx, orgID, accountID, leadgen.UnifiedQueueItem{
		Kind:      leadgen.KindComment,
		Source:    leadgen.SourceLead,
		ThreadID:  threadID,
		Subreddit: subreddit,
		Body:      text,
	})
}

// EnqueueDM schedules a direct message. DMs are exempt from subreddit cooldowns.
func (s *Service) EnqueueDM(
	ctx context.Context,
	orgID, accountID, recipient, subject, text string,
) (leadgen.UnifiedQueueItem, error) {
	recipient = strings.TrimPrefix(strings.TrimSpace(recipient), "u/")
	if recipient == "" || strings.TrimSpace(text) == "" {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("dm needs a recipient and text: %w", leadgen.ErrInvalid)
	}
	return s.enqueue(ctx, orgID, accountID, leadgen.UnifiedQueueItem{
		Kind:      leadgen.KindDM,
		Source:    leadgen.SourceLead,
		Recipient: recipient,
		Title:     subject,
		Body:      text,
	})
}

// EnqueuePost schedules a warm-up submission and records it on the account.
func (s *Service) EnqueuePost(
	ctx context.Context,
	orgID, accountID, subreddit, title, body string,
) (leadgen.UnifiedQueueItem, error) {
	if cooldown.NormalizeSubreddit(subreddit) == "" || strings.TrimSpace(title) == "" {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("post needs a subreddit and title: %w", leadgen.ErrInvalid)
	}
	postID, err := s.deps.IDs.NewID()
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("generate post id: %w", err)
	}
	item, err := s.enqueue(ctx, orgID, accountID, leadgen.UnifiedQueueItem{
		Kind:      leadgen.KindPost,
		Source:    leadgen.SourceWarmup,
		SourceID:  postID,
		Subreddit: subreddit,
		Title:     title,
		Body:      body,
	})
	if err != nil {
		return leadgen.UnifiedQueueItem{}, err
	}
	if err := s.deps.Accounts.CreateWarmupPost(ctx, leadgen.WarmupPost{
		ID:          postID,
		AccountID:   item.AccountID,
		Subreddit:   item.Subreddit,
		Title:       title,
		Body:        body,
		QueueItemID: item.ID,
		CreatedAt:   item.CreatedAt,
	}); err != nil {
		return item, fmt.Errorf("record warmup post: %w", err)
	}
	return item, nil
}

// EnqueueWarmupComment schedules a warm-up reply and records it on the account.
func (s *Service) EnqueueWarmupComment(
	ctx context.Context,
	orgID, accountID, threadID, subreddit, body string,
) (leadgen.UnifiedQueueItem, error) {
	if threadID == "" || strings.TrimSpace(body) == "" {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("comment needs a thread and text: %w", leadgen.ErrInvalid)
	}
	commentID, err := s.deps.IDs.NewID()
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("generate comment id: %w", err)
	}
	item, err := s.enqueue(ctx, orgID, accountID, leadgen.UnifiedQueueItem{
		Kind:      leadgen.KindComment,
		Source:    leadgen.SourceWarmup,
		SourceID:  commentID,
		ThreadID:  threadID,
		Subreddit: subreddit,
		Body:      body,
	})
	if err != nil {
		return leadgen.UnifiedQueueItem{}, err
	}
	if err := s.deps.Accounts.CreateWarmupComment(ctx, leadgen.WarmupComment{
		ID:          commentID,
		AccountID:   item.AccountID,
		Subreddit:   item.Subreddit,
		ThreadID:    threadID,
		Body:        body,
		QueueItemID: item.ID,
		CreatedAt:   item.CreatedAt,
	}); err != nil {
		return item, fmt.Errorf("record warmup comment: %w", err)
	}
	return item, nil
}

// QueueGenerated enqueues a generated lead comment on an account. tier picks
// micro, medium or verbose; "dm" queues the DM draft to the thread author.
func (s *Service) QueueGenerated(
	ctx context.Context,
	orgID, commentID, accountID, tier string,
) (leadgen.UnifiedQueueItem, error) {
	if s.deps.Results == nil || s.deps.Campaigns == nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("generated comments are not available: %w", leadgen.ErrInvalid)
	}
	c, err := s.deps.Results.GetComment(ctx, commentID)
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("load comment: %w", err)
	}
	if _, err := s.deps.Campaigns.GetCampaign(ctx, orgID, c.CampaignID); err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("comment %s: %w", commentID, leadgen.ErrNotFound)
	}
	if c.Status == leadgen.CommentQueued || c.Status == leadgen.CommentPosted {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("comment %s is already %s: %w", commentID, c.Status, leadgen.ErrConflict)
	}

	var item leadgen.UnifiedQueueItem
	if tier == "dm" {
		item, err = s.EnqueueDM(ctx, orgID, accountID, c.Author, c.DMSubject, c.DMBody)
	} else {
		if tier == "" {
			tier = "medium"
		}
		text, ok := c.Tier(tier)
		if !ok {
			return leadgen.UnifiedQueueItem{}, fmt.Errorf("unknown comment tier %q: %w", tier, leadgen.ErrInvalid)
		}
		item, err = s.EnqueueComment(ctx, orgID, accountID, c.RedditID, c.Subreddit, text)
	}
	if err != nil {
		return leadgen.UnifiedQueueItem{}, err
	}

	item.SourceID = c.ID
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		return item, fmt.Errorf("link queue item: %w", err)
	}
	c.Status = leadgen.CommentQueued
	c.QueueItemID = item.ID
	c.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Results.UpdateComment(ctx, c); err != nil {
		return item, fmt.Errorf("mark comment queued: %w", err)
	}
	return item, nil
}

// enqueue places item at the end of the Reddit user's pending queue, which is
// shared by every organization that linked the username.
func (s *Service) enqueue(
	ctx context.Context,
	orgID, accountID string,
	item leadgen.UnifiedQueueItem,
) (leadgen.UnifiedQueueItem, error) {
	account, err := s.postingAccount(ctx, orgID, accountID)
	if err != nil {
		return leadgen.UnifiedQueueItem{}, err
	}
	pending, err := s.sharedPending(ctx, account)
	if err != nil {
		return leadgen.UnifiedQueueItem{}, err
	}
	now := s.deps.Clock.Now()
	at, err := s.nextSlot(now, pending, account.Settings)
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("schedule item: %w", err)
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("generate queue item id: %w", err)
	}
	item.ID = id
	item.AccountID = account.ID
	item.OrganizationID = orgID
	item.Subreddit = cooldown.NormalizeSubreddit(item.Subreddit)
	item.ScheduledFor = at
	item.Status = leadgen.QueueQueued
	item.CreatedAt = now
	item.UpdatedAt = now
	if err := s.deps.Queue.CreateItem(ctx, item); err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("create queue item: %w", err)
	}
	metrics.ObserveQueueItem(string(item.Kind), string(leadgen.QueueQueued))
	s.logger.Debug("item queued",
		zap.String("item_id", item.ID),
		zap.String("account_id", account.ID),
		zap.String("username", account.Username),
		zap.String("kind", string(item.Kind)),
		zap.Time("scheduled_for", at))
	return item, nil
}

// nextSlot anchors the new item at the later of now and the last pending item.
// When anchored at now, the pending count is the item's queue position; when
// anchored at the last pending item the new item follows it by one interval.
func (s *Service) nextSlot(now time.Time, pending []leadgen.UnifiedQueueItem, settings leadgen.PostingSettings) (time.Time, error) {
	if len(pending) == 0 {
		return s.deps.Schedule.Slot(now, 0, settings)
	}
	last := pending[len(pending)-1].ScheduledFor
	if last.After(now) {
		return s.deps.Schedule.SlotAfter(last, 0, last, settings)
	}
	return s.deps.Schedule.Slot(now, len(pending), settings)
}

// postingAccount resolves the account orgID posts through. Another
// organization's account is accepted when orgID linked the same Reddit
// username; the item then uses orgID's own link.
func (s *Service) postingAccount(ctx context.Context, orgID, accountID string) (leadgen.WarmupAccount, error) {
	a, err := s.deps.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("load account: %w", err)
	}
	if a.OrganizationID == orgID {
		return a, nil
	}
	linked, err := s.deps.Accounts.ListLinkedAccounts(ctx, a.Username)
	if err != nil {
		return leadgen.WarmupAccount{}, fmt.Errorf("list linked accounts: %w", err)
	}
	for _, l := range linked {
		if l.OrganizationID == orgID {
			return l, nil
		}
	}
	return leadgen.WarmupAccount{}, fmt.Errorf("account %s: %w", accountID, leadgen.ErrNotFound)
}

// linkedAccounts returns every organization's account for the Reddit user
// behind account, account included.
func (s *Service) linkedAccounts(ctx context.Context, account leadgen.WarmupAccount) ([]leadgen.WarmupAccount, error) {
	linked, err := s.deps.Accounts.ListLinkedAccounts(ctx, account.Username)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	if !slices.ContainsFunc(linked, func(a leadgen.WarmupAccount) bool { return a.ID == account.ID }) {
		linked = append(linked, account)
	}
	return linked, nil
}

// sharedPending returns the queued items of every linked account ordered by
// scheduled time.
func (s *Service) sharedPending(ctx context.Context, account leadgen.WarmupAccount) ([]leadgen.UnifiedQueueItem, error) {
	linked, err := s.linkedAccounts(ctx, account)
	if err != nil {
		return nil, err
	}
	var pending []leadgen.UnifiedQueueItem
	for _, a := range linked {
		items, err := s.deps.Queue.ListItems(ctx, a.ID, leadgen.QueueQueued)
		if err != nil {
			return nil, fmt.Errorf("list pending items: %w", err)
		}
		pending = append(pending, items...)
	}
	slices.SortFunc(pending, func(a, b leadgen.UnifiedQueueItem) int {
		if n := a.ScheduledFor.Compare(b.ScheduledFor); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return pending, nil
}

// postedSince counts what the Reddit user posted at or after since across
// every linked account.
func (s *Service) postedSince(ctx context.Context, account leadgen.WarmupAccount, since time.Time) (int, error) {
	linked, err := s.linkedAccounts(ctx, account)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, a := range linked {
		n, err := s.deps.Queue.CountPosted(ctx, a.ID, since)
		if err != nil {
			return 0, fmt.Errorf("count posted: %w", err)
		}
		total += n
	}
	return total, nil
}

// Reschedule recomputes every pending item of the account's Reddit user from now.
func (s *Service) Reschedule(ctx context.Context, orgID, accountID string) ([]leadgen.UnifiedQueueItem, error) {
	account, err := s.GetAccount(ctx, orgID, accountID)
	if err != nil {
		return nil, err
	}
	return s.reschedule(ctx, account)
}

func (s *Service) reschedule(ctx context.Context, account leadgen.WarmupAccount) ([]leadgen.UnifiedQueueItem, error) {
	pending, err := s.sharedPending(ctx, account)
	if err != nil {
		return nil, err
	}
	now := s.deps.Clock.Now()
	plan, err := s.deps.Schedule.Plan(now, len(pending), account.Settings)
	if err != nil {
		return nil, fmt.Errorf("plan schedule: %w", err)
	}
	for i := range pending {
		pending[i].ScheduledFor = plan[i]
		pending[i].UpdatedAt = now
		if err := s.deps.Queue.UpdateItem(ctx, pending[i]); err != nil {
			return nil, fmt.Errorf("update queue item %s: %w", pending[i].ID, err)
		}
	}
	s.logger.Info("queue rescheduled", zap.String("account_id", account.ID), zap.Int("items", len(pending)))
	return pending, nil
}

// Cancel withdraws a pending item. A linked generated comment returns to approved.
func (s *Service) Cancel(ctx context.Context, orgID, itemID string) (leadgen.UnifiedQueueItem, error) {
	item, err := s.deps.Queue.GetItem(ctx, itemID)
	if err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("load queue item: %w", err)
	}
	if item.OrganizationID != orgID {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("queue item %s: %w", itemID, leadgen.ErrNotFound)
	}
	if !item.Status.Pending() {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("queue item %s is %s: %w", itemID, item.Status, leadgen.ErrConflict)
	}
	now := s.deps.Clock.Now()
	item.Status = leadgen.QueueCanceled
	item.UpdatedAt = now
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		return leadgen.UnifiedQueueItem{}, fmt.Errorf("cancel queue item: %w", err)
	}
	metrics.ObserveQueueItem(string(item.Kind), string(leadgen.QueueCanceled))
	if item.Source == leadgen.SourceLead {
		s.updateLinkedComment(ctx, item, leadgen.CommentApproved)
	}
	return item, nil
}

// List returns an account's items; an empty status matches all.
func (s *Service) List(
	ctx context.Context,
	orgID, accountID string,
	status leadgen.QueueStatus,
) ([]leadgen.UnifiedQueueItem, error) {
	if _, err := s.GetAccount(ctx, orgID, accountID); err != nil {
		return nil, err
	}
	items, err := s.deps.Queue.ListItems(ctx, accountID, status)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

func (s *Service) updateLinkedComment(ctx context.Context, item leadgen.UnifiedQueueItem, status leadgen.CommentStatus) {
	if item.SourceID == "" || s.deps.Results == nil {
		return
	}
	c, err := s.deps.Results.GetComment(ctx, item.SourceID)
	if err != nil {
		return
	}
	if c.QueueItemID != item.ID {
		return
	}
	c.Status = status
	if status == leadgen.CommentApproved {
		c.QueueItemID = ""
	}
	c.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Results.UpdateComment(ctx, c); err != nil {
		s.logger.Warn("linked comment update failed", zap.String("comment_id", c.ID), zap.Error(err))
	}
}
