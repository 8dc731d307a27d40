package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// ReplaceResults deletes the campaign's previous output and inserts the new
// rows in one transaction.
func (s *Store) ReplaceResults(
	ctx context.Context,
	campaignID string,
	results []leadgen.SearchResult,
	threads []leadgen.RedditThread,
	comments []leadgen.GeneratedComment,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace results: %w", err)
	}
	defer rollback(ctx, tx)

	for _, table := range []string{"generated_comments", "reddit_threads", "search_results"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE campaign_id = $1`, campaignID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for _, r := range results {
		if _, err := tx.Exec(ctx, `
			INSERT INTO search_results (id, campaign_id, keyword, title, url, snippet, thread_id, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, campaignID, r.Keyword, r.Title, r.URL, r.Snippet, r.ThreadID, r.Position, r.CreatedAt,
		); err != nil {
			return mapErr(err, "insert search result "+r.ID)
		}
	}
	for _, th := range threads {
		encoded, err := json.Marshal(nonNil(th.Comments))
		if err != nil {
			return fmt.Errorf("encode thread comments: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO reddit_threads (id, campaign_id, reddit_id, subreddit, title, body, author, url, score,
				num_comments, comments, keyword, relevance, reasoning, scored, posted_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			th.ID, campaignID, th.RedditID, th.Subreddit, th.Title, th.Body, th.Author, th.URL, th.Score,
			th.NumComments, encoded, th.Keyword, th.Relevance, th.Reasoning, th.Scored, th.PostedAt, th.CreatedAt,
		); err != nil {
			return mapErr(err, "insert thread "+th.ID)
		}
	}
	for _, c := range comments {
		if _, err := tx.Exec(ctx, `
			INSERT INTO generated_comments (`+commentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			commentArgs(c)...,
		); err != nil {
			return mapErr(err, "insert comment "+c.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace results: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ListSearchResults returns the campaign's search results in rank order.
func (s *Store) ListSearchResults(ctx context.Context, campaignID string) ([]leadgen.SearchResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, keyword, title, url, snippet, thread_id, position, created_at
		FROM search_results WHERE campaign_id = $1 ORDER BY position, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list search results: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.SearchResult, error) {
		var r leadgen.SearchResult
		err := row.Scan(&r.ID, &r.CampaignID, &r.Keyword, &r.Title, &r.URL, &r.Snippet, &r.ThreadID, &r.Position, &r.CreatedAt)
		return r, err
	})
}

// ListThreads returns the campaign's threads ordered by relevance.
func (s *Store) ListThreads(ctx context.Context, campaignID string) ([]leadgen.RedditThread, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, reddit_id, subreddit, title, body, author, url, score, num_comments,
			comments, keyword, relevance, reasoning, scored, posted_at, created_at
		FROM reddit_threads WHERE campaign_id = $1 ORDER BY relevance DESC, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.RedditThread, error) {
		var (
			th  leadgen.RedditThread
			raw []byte
		)
		if err := row.Scan(
			&th.ID, &th.CampaignID, &th.RedditID, &th.Subreddit, &th.Title, &th.Body, &th.Author, &th.URL,
			&th.Score, &th.NumComments, &raw, &th.Keyword, &th.Relevance, &th.Reasoning, &th.Scored,
			&th.PostedAt, &th.CreatedAt,
		); err != nil {
			return th, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &th.Comments); err != nil {
				return th, fmt.Errorf("decode thread comments: %w", err)
			}
		}
		return th, nil
	})
}

const commentColumns = `id, campaign_id, thread_id, reddit_id, subreddit, author, relevance, micro_comment,
	medium_comment, verbose_comment, dm_subject, dm_body, status, queue_item_id, created_at, updated_at`

func commentArgs(c leadgen.GeneratedComment) []any {
	return []any{
		c.ID, c.CampaignID, c.ThreadID, c.RedditID, c.Subreddit, c.Author, c.Relevance, c.Micro,
		c.Medium, c.Verbose, c.DMSubject, c.DMBody, c.Status, c.QueueItemID, c.CreatedAt, c.UpdatedAt,
	}
}

func scanComment(row rowScanner) (leadgen.GeneratedComment, error) {
	var c leadgen.GeneratedComment
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.ThreadID, &c.RedditID, &c.Subreddit, &c.Author, &c.Relevance, &c.Micro,
		&c.Medium, &c.Verbose, &c.DMSubject, &c.DMBody, &c.Status, &c.QueueItemID, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// ListComments returns the campaign's generated comments ordered by relevance.
func (s *Store) ListComments(ctx context.Context, campaignID string) ([]leadgen.GeneratedComment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+commentColumns+`
		FROM generated_comments WHERE campaign_id = $1 ORDER BY relevance DESC, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (leadgen.GeneratedComment, error) {
		return scanComment(row)
	})
}

// GetComment fetches one generated comment.
func (s *Store) GetComment(ctx context.Context, commentID string) (leadgen.GeneratedComment, error) {
	c, err := scanComment(s.db.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM generated_comments WHERE id = $1`, commentID))
	if err != nil {
		return leadgen.GeneratedComment{}, mapErr(err, "comment "+commentID)
	}
	return c, nil
}

// UpdateComment replaces the editable fields of a generated comment.
func (s *Store) UpdateComment(ctx context.Context, c leadgen.GeneratedComment) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE generated_comments SET
			micro_comment = $2, medium_comment = $3, verbose_comment = $4, dm_subject = $5, dm_body = $6,
			status = $7, queue_item_id = $8, updated_at = $9
		WHERE id = $1`,
		c.ID, c.Micro, c.Medium, c.Verbose, c.DMSubject, c.DMBody, c.Status, c.QueueItemID, c.UpdatedAt,
	)
	if err != nil {
		return mapErr(err, "update comment "+c.ID)
	}
	return mustAffect(tag, "comment "+c.ID)
}

// PutProgress upserts a run's progress record. A stopped record only accepts
// another stopped write; anything else returns leadgen.ErrStopped.
func (s *Store) PutProgress(ctx context.Context, p leadgen.WorkflowProgress) error {
	stages, err := json.Marshal(nonNil(p.Stages))
	if err != nil {
		return fmt.Errorf("encode stages: %w", err)
	}
	limits, err := json.Marshal(p.Limits)
	if err != nil {
		return fmt.Errorf("encode limits: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO workflow_runs (run_id, campaign_id, organization_id, status, current_stage, stages, error,
			limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_stage = EXCLUDED.current_stage,
			stages = EXCLUDED.stages,
			error = EXCLUDED.error,
			limits = EXCLUDED.limits,
			updated_at = EXCLUDED.updated_at
		WHERE workflow_runs.status <> 'stopped' OR EXCLUDED.status = 'stopped'`,
		p.RunID, p.CampaignID, p.OrganizationID, p.Status, p.CurrentStage, stages, p.Error,
		limits, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return mapErr(err, "put progress "+p.RunID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", p.RunID, leadgen.ErrStopped)
	}
	return nil
}

// GetProgress fetches a run's progress record.
func (s *Store) GetProgress(ctx context.Context, runID string) (leadgen.WorkflowProgress, error) {
	var (
		p              leadgen.WorkflowProgress
		stages, limits []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT run_id, campaign_id, organization_id, status, current_stage, stages, error, limits,
			created_at, updated_at
		FROM workflow_runs WHERE run_id = $1`, runID).Scan(
		&p.RunID, &p.CampaignID, &p.OrganizationID, &p.Status, &p.CurrentStage, &stages, &p.Error, &limits,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return leadgen.WorkflowProgress{}, mapErr(err, "run "+runID)
	}
	if err := json.Unmarshal(stages, &p.Stages); err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("decode stages: %w", err)
	}
	if err := json.Unmarshal(limits, &p.Limits); err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("decode limits: %w", err)
	}
	return p, nil
}
