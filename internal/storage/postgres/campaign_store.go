package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

const orgColumns = `id, name, plan, monthly_thread_quota, threads_used, usage_period, created_at, updated_at`

// GetOrganization fetches an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (leadgen.Organization, error) {
	var o leadgen.Organization
	err := s.db.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, orgID).Scan(
		&o.ID, &o.Name, &o.Plan, &o.MonthlyThreadQuota, &o.ThreadsUsed, &o.UsagePeriod, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return leadgen.Organization{}, mapErr(err, "organization "+orgID)
	}
	return o, nil
}

// PutOrganization creates or replaces an organization. Usage counters are
// only written on insert; AddUsage owns them afterwards.
func (s *Store) PutOrganization(ctx context.Context, o leadgen.Organization) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO organizations (`+orgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			plan = EXCLUDED.plan,
			monthly_thread_quota = EXCLUDED.monthly_thread_quota,
			updated_at = EXCLUDED.updated_at`,
		o.ID, o.Name, o.Plan, o.MonthlyThreadQuota, o.ThreadsUsed, o.UsagePeriod, o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err, "put organization "+o.ID)
}

// AddUsage increments threads_used for period, restarting the counter when the period changed.
func (s *Store) AddUsage(ctx context.Context, orgID, period string, threads int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE organizations SET
			threads_used = CASE WHEN usage_period = $2 THEN threads_used + $3 ELSE $3 END,
			usage_period = $2,
			updated_at = now()
		WHERE id = $1`,
		orgID, period, threads,
	)
	if err != nil {
		return mapErr(err, "add usage "+orgID)
	}
	return mustAffect(tag, "organization "+orgID)
}

const campaignColumns = `id, organization_id, name, website_url, business_description, keywords, status,
	status_message, last_run_id, website_snapshot_uri, threads_found, comments_generated, created_at, updated_at`

func scanCampaign(row rowScanner) (leadgen.Campaign, error) {
	var c leadgen.Campaign
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.WebsiteURL, &c.BusinessDescription, &c.Keywords, &c.Status,
		&c.StatusMessage, &c.LastRunID, &c.WebsiteSnapshotURI, &c.ThreadsFound, &c.CommentsGenerated,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func campaignArgs(c leadgen.Campaign) []any {
	keywords := c.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return []any{
		c.ID, c.OrganizationID, c.Name, c.WebsiteURL, c.BusinessDescription, keywords, c.Status,
		c.StatusMessage, c.LastRunID, c.WebsiteSnapshotURI, c.ThreadsFound, c.CommentsGenerated,
		c.CreatedAt, c.UpdatedAt,
	}
}

// CreateCampaign inserts a campaign.
func (s *Store) CreateCampaign(ctx context.Context, c leadgen.Campaign) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		campaignArgs(c)...,
	)
	return mapErr(err, "campaign "+c.ID)
}

// GetCampaign fetches a campaign scoped to its organization.
func (s *Store) GetCampaign(ctx context.Context, orgID, campaignID string) (leadgen.Campaign, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 AND organization_id = $2`,
		campaignID, orgID,
	)
	c, err := scanCampaign(row)
	if err != nil {
		return leadgen.Campaign{}, mapErr(err, "campaign "+campaignID)
	}
	return c, nil
}

// ListCampaigns returns the organization's campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, orgID string) ([]leadgen.Campaign, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE organization_id = $1 ORDER BY created_at DESC, id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	out := make([]leadgen.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return out, nil
}

// UpdateCampaign replaces an existing campaign.
func (s *Store) UpdateCampaign(ctx context.Context, c leadgen.Campaign) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE campaigns SET
			name = $3, website_url = $4, business_description = $5, keywords = $6, status = $7,
			status_message = $8, last_run_id = $9, website_snapshot_uri = $10, threads_found = $11,
			comments_generated = $12, created_at = $13, updated_at = $14
		WHERE id = $1 AND organization_id = $2`,
		campaignArgs(c)...,
	)
	if err != nil {
		return mapErr(err, "update campaign "+c.ID)
	}
	return mustAffect(tag, "campaign "+c.ID)
}

// DeleteCampaign removes a campaign; results cascade.
func (s *Store) DeleteCampaign(ctx context.Context, orgID, campaignID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM campaigns WHERE id = $1 AND organization_id = $2`,
		campaignID, orgID,
	)
	if err != nil {
		return mapErr(err, "delete campaign "+campaignID)
	}
	return mustAffect(tag, "campaign "+campaignID)
}
