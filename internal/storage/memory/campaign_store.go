package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// GetOrganization fetches an organization by ID.
func (s *Store) GetOrganization(_ context.Context, orgID string) (leadgen.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return leadgen.Organization{}, fmt.Errorf("organization %s: %w", orgID, leadgen.ErrNotFound)
	}
	return org, nil
}

// PutOrganization creates or replaces an organization.
func (s *Store) PutOrganization(_ context.Context, org leadgen.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
	return nil
}

// AddUsage increments the organization's thread counter for period.
func (s *Store) AddUsage(_ context.Context, orgID, period string, threads int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return fmt.Errorf("organization %s: %w", orgID, leadgen.ErrNotFound)
	}
	if org.UsagePeriod != period {
		org.UsagePeriod = period
		org.ThreadsUsed = 0
	}
	org.ThreadsUsed += threads
	s.orgs[orgID] = org
	return nil
}

// CreateCampaign stores a new campaign.
func (s *Store) CreateCampaign(_ context.Context, c leadgen.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.campaigns[c.ID]; exists {
		return fmt.Errorf("campaign %s: %w", c.ID, leadgen.ErrConflict)
	}
	c.Keywords = slices.Clone(c.Keywords)
	s.campaigns[c.ID] = c
	return nil
}

// GetCampaign fetches a campaign scoped to its organization.
func (s *Store) GetCampaign(_ context.Context, orgID, campaignID string) (leadgen.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[campaignID]
	if !ok || c.OrganizationID != orgID {
		return leadgen.Campaign{}, fmt.Errorf("campaign %s: %w", campaignID, leadgen.ErrNotFound)
	}
	c.Keywords = slices.Clone(c.Keywords)
	return c, nil
}

// ListCampaigns returns the organization's campaigns, newest first.
func (s *Store) ListCampaigns(_ context.Context, orgID string) ([]leadgen.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.Campaign, 0)
	for _, c := range s.campaigns {
		if c.OrganizationID == orgID {
			c.Keywords = slices.Clone(c.Keywords)
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b leadgen.Campaign) int {
		if n := b.CreatedAt.Compare(a.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpdateCampaign replaces an existing campaign.
func (s *Store) UpdateCampaign(_ context.Context, c leadgen.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.campaigns[c.ID]
	if !ok || existing.OrganizationID != c.OrganizationID {
		return fmt.Errorf("campaign %s: %w", c.ID, leadgen.ErrNotFound)
	}
	c.Keywords = slices.Clone(c.Keywords)
	s.campaigns[c.ID] = c
	return nil
}

// DeleteCampaign removes a campaign and everything produced for it.
func (s *Store) DeleteCampaign(_ context.Context, orgID, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok || c.OrganizationID != orgID {
		return fmt.Errorf("campaign %s: %w", campaignID, leadgen.ErrNotFound)
	}
	delete(s.campaigns, campaignID)
	s.dropResultsLocked(campaignID)
	return nil
}
