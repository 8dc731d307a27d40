package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// ReplaceResults swaps the campaign's results in one step.
func (s *Store) ReplaceResults(
	_ context.Context,
	campaignID string,
	results []leadgen.SearchResult,
	threads []leadgen.RedditThread,
	comments []leadgen.GeneratedComment,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropResultsLocked(campaignID)
	s.results[campaignID] = slices.Clone(results)
	copied := make([]leadgen.RedditThread, len(threads))
	for i, th := range threads {
		th.Comments = slices.Clone(th.Comments)
		copied[i] = th
	}
	s.threads[campaignID] = copied
	for _, c := range comments {
		s.comments[c.ID] = c
	}
	return nil
}

func (s *Store) dropResultsLocked(campaignID string) {
	delete(s.results, campaignID)
	delete(s.threads, campaignID)
	for id, c := range s.comments {
		if c.CampaignID == campaignID {
			delete(s.comments, id)
		}
	}
}

// ListSearchResults returns a copy of the campaign's search results.
func (s *Store) ListSearchResults(_ context.Context, campaignID string) ([]leadgen.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]leadgen.SearchResult{}, s.results[campaignID]...), nil
}

// ListThreads returns the campaign's threads ordered by relevance.
func (s *Store) ListThreads(_ context.Context, campaignID string) ([]leadgen.RedditThread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.RedditThread, 0, len(s.threads[campaignID]))
	for _, th := range s.threads[campaignID] {
		th.Comments = slices.Clone(th.Comments)
		out = append(out, th)
	}
	slices.SortStableFunc(out, func(a, b leadgen.RedditThread) int { return b.Relevance - a.Relevance })
	return out, nil
}

// ListComments returns the campaign's generated comments ordered by relevance.
func (s *Store) ListComments(_ context.Context, campaignID string) ([]leadgen.GeneratedComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leadgen.GeneratedComment, 0)
	for _, c := range s.comments {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b leadgen.GeneratedComment) int {
		if a.Relevance != b.Relevance {
			return b.Relevance - a.Relevance
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// GetComment fetches a generated comment by ID.
func (s *Store) GetComment(_ context.Context, commentID string) (leadgen.GeneratedComment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[commentID]
	if !ok {
		return leadgen.GeneratedComment{}, fmt.Errorf("comment %s: %w", commentID, leadgen.ErrNotFound)
	}
	return c, nil
}

// UpdateComment replaces an existing generated comment.
func (s *Store) UpdateComment(_ context.Context, c leadgen.GeneratedComment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; !ok {
		return fmt.Errorf("comment %s: %w", c.ID, leadgen.ErrNotFound)
	}
	s.comments[c.ID] = c
	return nil
}

// PutProgress creates or replaces a run's progress record. A stopped record
// only accepts another stopped write; anything else returns leadgen.ErrStopped.
func (s *Store) PutProgress(_ context.Context, p leadgen.WorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.progress[p.RunID]; ok && existing.Status == leadgen.RunStopped && p.Status != leadgen.RunStopped {
		return fmt.Errorf("run %s: %w", p.RunID, leadgen.ErrStopped)
	}
	p.Stages = slices.Clone(p.Stages)
	s.progress[p.RunID] = p
	return nil
}

// GetProgress fetches a run's progress record.
func (s *Store) GetProgress(_ context.Context, runID string) (leadgen.WorkflowProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[runID]
	if !ok {
		return leadgen.WorkflowProgress{}, fmt.Errorf("run %s: %w", runID, leadgen.ErrNotFound)
	}
	p.Stages = slices.Clone(p.Stages)
	return p, nil
}
