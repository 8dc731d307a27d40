package postqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// Report summarizes one ProcessDue pass.
type Report struct {
	Claimed  int `json:"claimed"`
	Posted   int `json:"posted"`
	Deferred int `json:"deferred"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
}

// ProcessDue claims items due at now and posts them. Items of paused accounts,
// accounts over their daily cap and subreddits in cooldown are pushed back
// without counting an attempt.
func (s *Service) ProcessDue(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	if s.deps.Reddit == nil {
		return rep, errors.New("postqueue: reddit client is not configured")
	}
	items, err := s.deps.Queue.ClaimDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("claim due items: %w", err)
	}
	rep.Claimed = len(items)
	accounts := make(map[string]leadgen.WarmupAccount)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			// Unprocessed claims go back to the queue untouched.
			s.release(context.WithoutCancel(ctx), item, item.ScheduledFor, now)
			continue
		}
		s.processItem(ctx, now, item, accounts, &rep)
	}
	if rep.Claimed > 0 {
		s.logger.Info("queue pass finished",
			zap.Int("claimed", rep.Claimed),
			zap.Int("posted", rep.Posted),
			zap.Int("deferred", rep.Deferred),
			zap.Int("retried", rep.Retried),
			zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

func (s *Service) processItem(
	ctx context.Context,
	now time.Time,
	item leadgen.UnifiedQueueItem,
	accounts map[string]leadgen.WarmupAccount,
	rep *Report,
) {
	account, ok := accounts[item.AccountID]
	if !ok {
		a, err := s.deps.Accounts.GetAccount(ctx, item.AccountID)
		if err != nil {
			if errors.Is(err, leadgen.ErrNotFound) {
				s.finishFailed(ctx, now, item, "account no longer exists")
				rep.Failed++
				return
			}
			s.logger.Warn("load account failed", zap.String("account_id", item.AccountID), zap.Error(err))
			s.release(ctx, item, item.ScheduledFor, now)
			rep.Deferred++
			return
		}
		account = a
		accounts[item.AccountID] = a
	}

	if account.Status == leadgen.AccountPaused {
		s.release(ctx, item, now.Add(s.cfg.CapDeferral), now)
		rep.Deferred++
		return
	}

	capacity := account.DailyCap
	if capacity <= 0 {
		capacity = s.cfg.DefaultDailyCap
	}
	posted, err := s.postedSince(ctx, account, now.Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn("count posted failed", zap.String("account_id", account.ID), zap.Error(err))
		s.release(ctx, item, item.ScheduledFor, now)
		rep.Deferred++
		return
	}
	if posted >= capacity {
		s.logger.Debug("daily cap reached", zap.String("account_id", account.ID), zap.Int("cap", capacity))
		s.release(ctx, item, now.Add(s.cfg.CapDeferral), now)
		rep.Deferred++
		return
	}

	if item.Kind != leadgen.KindDM && s.deps.Cooldown != nil && item.Subreddit != "" {
		decision, err := s.deps.Cooldown.Check(ctx, item.OrganizationID, item.Subreddit)
		if err != nil {
			s.logger.Warn("cooldown check failed", zap.String("item_id", item.ID), zap.Error(err))
			s.release(ctx, item, item.ScheduledFor, now)
			rep.Deferred++
			return
		}
		if !decision.Allowed {
			s.release(ctx, item, decision.RetryAt, now)
			rep.Deferred++
			return
		}
	}

	sub, err := s.post(ctx, account, item)
	if err != nil {
		if s.retryOrFail(ctx, now, item, err) {
			rep.Retried++
		} else {
			rep.Failed++
		}
		return
	}
	s.finishPosted(ctx, now, item, sub)
	rep.Posted++
}

func (s *Service) post(ctx context.Context, account leadgen.WarmupAccount, item leadgen.UnifiedQueueItem) (leadgen.Submission, error) {
	switch item.Kind {
	case leadgen.KindComment:
		return s.deps.Reddit.Comment(ctx, account, item.ThreadID, item.Body)
	case leadgen.KindDM:
		return s.deps.Reddit.SendMessage(ctx, account, item.Recipient, item.Title, item.Body)
	case leadgen.KindPost:
		return s.deps.Reddit.Submit(ctx, account, item.Subreddit, item.Title, item.Body)
	default:
		return leadgen.Submission{}, retry.Permanent(fmt.Errorf("unknown queue item kind %q", item.Kind))
	}
}

// release puts a claimed item back in the queue at at.
func (s *Service) release(ctx context.Context, item leadgen.UnifiedQueueItem, at, now time.Time) {
	item.Status = leadgen.QueueQueued
	item.ScheduledFor = at
	item.UpdatedAt = now
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		s.logger.Error("release queue item failed", zap.String("item_id", item.ID), zap.Error(err))
	}
}

func (s *Service) finishPosted(ctx context.Context, now time.Time, item leadgen.UnifiedQueueItem, sub leadgen.Submission) {
	item.Status = leadgen.QueuePosted
	item.Attempts++
	item.LastError = ""
	item.RedditID = sub.ID
	item.PostedAt = &now
	item.UpdatedAt = now
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		s.logger.Error("mark item posted failed", zap.String("item_id", item.ID), zap.Error(err))
	}
	if item.Kind != leadgen.KindDM && s.deps.Cooldown != nil {
		if err := s.deps.Cooldown.Record(ctx, item.OrganizationID, item.Subreddit, now); err != nil {
			s.logger.Warn("record cooldown failed", zap.String("subreddit", item.Subreddit), zap.Error(err))
		}
	}
	if item.Source == leadgen.SourceLead {
		s.updateLinkedComment(ctx, item, leadgen.CommentPosted)
	}
	metrics.ObserveQueueItem(string(item.Kind), string(leadgen.QueuePosted))
	s.publish(ctx, leadgen.TopicQueuePosted, now, item, map[string]any{
		"account_id": item.AccountID,
		"kind":       string(item.Kind),
		"reddit_id":  sub.ID,
		"url":        sub.URL,
	})
	s.logger.Info("item posted",
		zap.String("item_id", item.ID),
		zap.String("kind", string(item.Kind)),
		zap.String("reddit_id", sub.ID))
}

// retryOrFail records a failed attempt. It reports whether the item was
// rescheduled rather than marked failed.
func (s *Service) retryOrFail(ctx context.Context, now time.Time, item leadgen.UnifiedQueueItem, cause error) bool {
	item.Attempts++
	item.LastError = cause.Error()
	if item.Attempts >= s.cfg.MaxAttempts || retry.IsPermanent(cause) {
		s.finishFailed(ctx, now, item, cause.Error())
		return false
	}
	item.Status = leadgen.QueueQueued
	item.ScheduledFor = now.Add(s.backoff(item.Attempts))
	item.UpdatedAt = now
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		s.logger.Error("reschedule failed item", zap.String("item_id", item.ID), zap.Error(err))
	}
	s.logger.Warn("post failed, retrying",
		zap.String("item_id", item.ID),
		zap.Int("attempts", item.Attempts),
		zap.Time("retry_at", item.ScheduledFor),
		zap.Error(cause))
	return true
}

func (s *Service) finishFailed(ctx context.Context, now time.Time, item leadgen.UnifiedQueueItem, reason string) {
	item.Status = leadgen.QueueFailed
	item.LastError = reason
	item.UpdatedAt = now
	if err := s.deps.Queue.UpdateItem(ctx, item); err != nil {
		s.logger.Error("mark item failed", zap.String("item_id", item.ID), zap.Error(err))
	}
	if item.Source == leadgen.SourceLead {
		s.updateLinkedComment(ctx, item, leadgen.CommentApproved)
	}
	metrics.ObserveQueueItem(string(item.Kind), string(leadgen.QueueFailed))
	s.publish(ctx, leadgen.TopicQueueFailed, now, item, map[string]any{
		"account_id": item.AccountID,
		"kind":       string(item.Kind),
		"attempts":   item.Attempts,
		"error":      reason,
	})
	s.logger.Warn("item failed", zap.String("item_id", item.ID), zap.String("reason", reason))
}

func (s *Service) backoff(attempts int) time.Duration {
	d := s.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

func (s *Service) publish(ctx context.Context, topic string, now time.Time, item leadgen.UnifiedQueueItem, data map[string]any) {
	if s.deps.Publisher == nil {
		return
	}
	_, err := s.deps.Publisher.Publish(ctx, topic, leadgen.Event{
		Type:           topic,
		OrganizationID: item.OrganizationID,
		SubjectID:      item.ID,
		OccurredAt:     now,
		Data:           data,
	})
	if err != nil {
		s.logger.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
	}
}
