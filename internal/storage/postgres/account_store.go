package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

const accountColumns = `id, organization_id, username, refresh_token, settings, daily_cap, status, karma,
	created_at, updated_at`

func scanAccount(row rowScanner) (leadgen.WarmupAccount, error) {
	var (
		a   leadgen.WarmupAccount
		raw []byte
	)
	if err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Username, &a.RefreshToken, &raw, &a.DailyCap, &a.Status, &a.Karma,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return a, err
	}
	if err := json.Unmarshal(raw, &a.Settings); err != nil {
		return a, fmt.Errorf("decode settings: %w", err)
	}
	return a, nil
}

func accountArgs(a leadgen.WarmupAccount) ([]any, error) {
	settings, err := json.Marshal(a.Settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return []any{
		a.ID, a.OrganizationID, a.Username, a.RefreshToken, settings, a.DailyCap, a.Status, a.Karma,
		a.CreatedAt, a.UpdatedAt,
	}, nil
}

// CreateAccount inserts an account. Usernames are unique per organization.
func (s *Store) CreateAccount(ctx context.Context, a leadgen.WarmupAccount) error {
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO warmup_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	return mapErr(err, "account "+a.Username)
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (leadgen.WarmupAccount, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM warmup_accounts WHERE id = $1`, accountID))
	if err != nil {
		return leadgen.WarmupAccount{}, mapErr(err, "account "+accountID)
	}
	return a, nil
}

// ListAccounts returns the organization's accounts ordered by username.
func (s *Store) ListAccounts(ctx context.Context, orgID string) ([]leadgen.WarmupAccount, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+`
		FROM warmup_accounts WHERE organization_id = $1 ORDER BY username`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.WarmupAccount, error) {
		return scanAccount(row)
	})
}

// ListLinkedAccounts returns the accounts of every organization sharing username.
func (s *Store) ListLinkedAccounts(ctx context.Context, username string) ([]leadgen.WarmupAccount, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+`
		FROM warmup_accounts WHERE lower(username) = lower($1) ORDER BY id`, username)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.WarmupAccount, error) {
		return scanAccount(row)
	})
}

// UpdateAccount replaces an existing account.
func (s *Store) UpdateAccount(ctx context.Context, a leadgen.WarmupAccount) error {
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE warmup_accounts SET
			organization_id = $2, username = $3, refresh_token = $4, settings = $5, daily_cap = $6,
			status = $7, karma = $8, created_at = $9, updated_at = $10
		WHERE id = $1`, args...)
	if err != nil {
		return mapErr(err, "update account "+a.ID)
	}
	return mustAffect(tag, "account "+a.ID)
}

// DeleteAccount removes an account; its queue and warm-up content cascade.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM warmup_accounts WHERE id = $1`, accountID)
	if err != nil {
		return mapErr(err, "delete account "+accountID)
	}
	return mustAffect(tag, "account "+accountID)
}

// CreateWarmupPost stores warm-up post content.
func (s *Store) CreateWarmupPost(ctx context.Context, p leadgen.WarmupPost) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO warmup_posts (id, account_id, subreddit, title, body, queue_item_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.AccountID, p.Subreddit, p.Title, p.Body, p.QueueItemID, p.CreatedAt)
	return mapErr(err, "warmup post "+p.ID)
}

// CreateWarmupComment stores warm-up comment content.
func (s *Store) CreateWarmupComment(ctx context.Context, c leadgen.WarmupComment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO warmup_comments (id, account_id, subreddit, thread_id, body, queue_item_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.AccountID, c.Subreddit, c.ThreadID, c.Body, c.QueueItemID, c.CreatedAt)
	return mapErr(err, "warmup comment "+c.ID)
}

const itemColumns = `id, account_id, organization_id, kind, source, source_id, subreddit, thread_id, recipient,
	title, body, scheduled_for, status, attempts, last_error, reddit_id, posted_at, created_at, updated_at`

func scanItem(row rowScanner) (leadgen.UnifiedQueueItem, error) {
	var it leadgen.UnifiedQueueItem
	err := row.Scan(
		&it.ID, &it.AccountID, &it.OrganizationID, &it.Kind, &it.Source, &it.SourceID, &it.Subreddit,
		&it.ThreadID, &it.Recipient, &it.Title, &it.Body, &it.ScheduledFor, &it.Status, &it.Attempts,
		&it.LastError, &it.RedditID, &it.PostedAt, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

func collectItems(rows pgx.Rows) ([]leadgen.UnifiedQueueItem, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.UnifiedQueueItem, error) {
		return scanItem(row)
	})
}

// CreateItem inserts a queue item.
func (s *Store) CreateItem(ctx context.Context, it leadgen.UnifiedQueueItem) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO queue_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		it.ID, it.AccountID, it.OrganizationID, it.Kind, it.Source, it.SourceID, it.Subreddit,
		it.ThreadID, it.Recipient, it.Title, it.Body, it.ScheduledFor, it.Status, it.Attempts,
		it.LastError, it.RedditID, it.PostedAt, it.CreatedAt, it.UpdatedAt,
	)
	return mapErr(err, "queue item "+it.ID)
}

// GetItem fetches a queue item.
func (s *Store) GetItem(ctx context.Context, itemID string) (leadgen.UnifiedQueueItem, error) {
	it, err := scanItem(s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, itemID))
	if err != nil {
		return leadgen.UnifiedQueueItem{}, mapErr(err, "queue item "+itemID)
	}
	return it, nil
}

// UpdateItem replaces the mutable fields of a queue item.
func (s *Store) UpdateItem(ctx context.Context, it leadgen.UnifiedQueueItem) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_items SET
			subreddit = $2, thread_id = $3, recipient = $4, title = $5, body = $6, scheduled_for = $7,
			status = $8, attempts = $9, last_error = $10, reddit_id = $11, posted_at = $12, updated_at = $13
		WHERE id = $1`,
		it.ID, it.Subreddit, it.ThreadID, it.Recipient, it.Title, it.Body, it.ScheduledFor,
		it.Status, it.Attempts, it.LastError, it.RedditID, it.PostedAt, it.UpdatedAt,
	)
	if err != nil {
		return mapErr(err, "update queue item "+it.ID)
	}
	return mustAffect(tag, "queue item "+it.ID)
}

// ListItems returns the account's items ordered by scheduled time; an empty status matches all.
func (s *Store) ListItems(
	ctx context.Context,
	accountID string,
	status leadgen.QueueStatus,
) ([]leadgen.UnifiedQueueItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM queue_items
		WHERE account_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY scheduled_for, id`, accountID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return collectItems(rows)
}

// ClaimDue moves up to limit due items to posting. Concurrent processors
// never claim the same row thanks to SKIP LOCKED.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]leadgen.UnifiedQueueItem, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, `
		UPDATE queue_items SET status = 'posting', updated_at = $1
		WHERE id IN (
			SELECT id FROM queue_items
			WHERE status = 'queued' AND scheduled_for <= $1
			ORDER BY scheduled_for
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns, now, lim)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	slices.SortFunc(items, func(a, b leadgen.UnifiedQueueItem) int { return a.ScheduledFor.Compare(b.ScheduledFor) })
	return items, nil
}

// CountPosted counts the account's items posted at or after since.
func (s *Store) CountPosted(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM queue_items
		WHERE account_id = $1 AND status = 'posted' AND posted_at >= $2`, accountID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posted: %w", err)
	}
	return n, nil
}

// GetCooldown reads the (organization, subreddit) record.
func (s *Store) GetCooldown(ctx context.Context, orgID, subreddit string) (leadgen.SubredditCooldown, error) {
	c := leadgen.SubredditCooldown{OrganizationID: orgID, Subreddit: subreddit}
	err := s.db.QueryRow(ctx, `
		SELECT last_posted_at FROM subreddit_cooldowns
		WHERE organization_id = $1 AND subreddit = $2`, orgID, subreddit).Scan(&c.LastPostedAt)
	if err != nil {
		return leadgen.SubredditCooldown{}, mapErr(err, "cooldown "+orgID+"/"+subreddit)
	}
	return c, nil
}

// PutCooldown upserts the record, never moving it backwards in time.
func (s *Store) PutCooldown(ctx context.Context, c leadgen.SubredditCooldown) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subreddit_cooldowns (organization_id, subreddit, last_posted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, subreddit) DO UPDATE
		SET last_posted_at = GREATEST(subreddit_cooldowns.last_posted_at, EXCLUDED.last_posted_at)`,
		c.OrganizationID, c.Subreddit, c.LastPostedAt)
	return mapErr(err, "put cooldown")
}
