package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/reddit-leadgen/internal/generator"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// threadHit is a deduplicated search hit that resolved to a Reddit thread.
type threadHit struct {
	ref     leadgen.ThreadRef
	keyword string
}

func (o *Orchestrator) scrape(ctx context.Context, r *run) (stageResult, error) {
	url := strings.TrimSpace(r.campaign.WebsiteURL)
	if url == "" {
		if strings.TrimSpace(r.campaign.BusinessDescription) == "" {
			return stageResult{}, fmt.Errorf("campaign needs a website or a business description: %w", leadgen.ErrInvalid)
		}
		r.business = businessContext(r.campaign, leadgen.Website{})
		return stageResult{skipped: true, message: "no website configured"}, nil
	}
	site, err := o.deps.Scraper.Scrape(ctx, url)
	if err != nil {
		return stageResult{}, fmt.Errorf("scrape %s: %w", url, err)
	}
	r.website = site
	r.business = businessContext(r.campaign, site)
	msg := "static"
	if site.Rendered {
		msg = "rendered"
	}
	return stageResult{count: 1, message: msg}, nil
}

func (o *Orchestrator) generateKeywords(ctx context.Context, r *run) (stageResult, error) {
	seeds := generator.Dedupe(r.campaign.Keywords)
	if len(seeds) >= r.limits.MaxKeywords {
		r.keywords = seeds[:r.limits.MaxKeywords]
		return stageResult{count: len(r.keywords), message: "seed keywords"}, nil
	}
	generated, err := o.deps.Generator.Keywords(ctx, r.website, r.business, r.limits.MaxKeywords)
	if err != nil {
		if len(seeds) == 0 || ctx.Err() != nil {
			return stageResult{}, err
		}
		o.logger.Warn("keyword generation failed, using seed keywords",
			zap.String("run_id", r.req.RunID), zap.Error(err))
		r.keywords = seeds
		return stageResult{count: len(seeds), message: "seed keywords only"}, nil
	}
	keywords := generator.Dedupe(append(slices.Clone(seeds), generated...))
	if len(keywords) > r.limits.MaxKeywords {
		keywords = keywords[:r.limits.MaxKeywords]
	}
	if len(keywords) == 0 {
		return stageResult{}, errors.New("no keywords generated")
	}
	r.keywords = keywords
	return stageResult{count: len(keywords)}, nil
}

func (o *Orchestrator) search(ctx context.Context, r *run) (stageResult, error) {
	seen := make(map[string]struct{})
	failed := 0
	var lastErr error
	for _, kw := range r.keywords {
		if err := ctx.Err(); err != nil {
			return stageResult{}, err
		}
		hits, err := o.deps.Search.Search(ctx, kw, r.limits.MaxResultsPerKeyword)
		if err != nil {
			if ctx.Err() != nil {
				return stageResult{}, ctx.Err()
			}
			failed++
			lastErr = err
			o.logger.Warn("keyword search failed", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		for pos, hit := range hits {
			if pos >= r.limits.MaxResultsPerKeyword {
				break
			}
			ref, ok := leadgen.ParseThreadURL(hit.URL)
			if !ok {
				continue
			}
			if _, dup := seen[ref.ID]; dup {
				continue
			}
			seen[ref.ID] = struct{}{}
			id, err := o.deps.IDs.NewID()
			if err != nil {
				return stageResult{}, fmt.Errorf("generate search result id: %w", err)
			}
			r.results = append(r.results, leadgen.SearchResult{
				ID:         id,
				CampaignID: r.campaign.ID,
				Keyword:    kw,
				Title:      hit.Title,
				URL:        hit.URL,
				Snippet:    hit.Snippet,
				ThreadID:   ref.ID,
				Position:   pos + 1,
				CreatedAt:  o.deps.Clock.Now(),
			})
			if len(r.hits) < r.limits.MaxThreads {
				r.hits = append(r.hits, threadHit{ref: ref, keyword: kw})
			}
		}
	}
	if failed > 0 && failed == len(r.keywords) {
		return stageResult{}, fmt.Errorf("all %d keyword searches failed: %w", failed, lastErr)
	}
	res := stageResult{count: len(r.results)}
	if failed > 0 {
		res.message = fmt.Sprintf("%d of %d searches failed", failed, len(r.keywords))
	}
	return res, nil
}

func (o *Orchestrator) fetch(ctx context.Context, r *run) (stageResult, error) {
	if len(r.hits) == 0 {
		return stageResult{skipped: true, message: "no threads found"}, nil
	}
	failed := 0
	var lastErr error
	for _, hit := range r.hits {
		if err := ctx.Err(); err != nil {
			return stageResult{}, err
		}
		thread, err := o.deps.Threads.FetchThread(ctx, hit.ref.ID, o.cfg.CommentLimit)
		if err != nil {
			if ctx.Err() != nil {
				return stageResult{}, ctx.Err()
			}
			failed++
			lastErr = err
			o.logger.Warn("thread fetch failed", zap.String("thread_id", hit.ref.ID), zap.Error(err))
			continue
		}
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return stageResult{}, fmt.Errorf("generate thread id: %w", err)
		}
		thread.ID = id
		thread.CampaignID = r.campaign.ID
		thread.Keyword = hit.keyword
		if thread.RedditID == "" {
			thread.RedditID = hit.ref.ID
		}
		if thread.Subreddit == "" {
			thread.Subreddit = hit.ref.Subreddit
		}
		thread.CreatedAt = o.deps.Clock.Now()
		r.threads = append(r.threads, thread)
	}
	if len(r.threads) == 0 {
		return stageResult{}, fmt.Errorf("all %d thread fetches failed: %w", failed, lastErr)
	}
	res := stageResult{count: len(r.threads)}
	if failed > 0 {
		res.message = fmt.Sprintf("%d of %d fetches failed", failed, len(r.hits))
	}
	return res, nil
}

// score rates every fetched thread with bounded parallelism. A thread whose
// scoring fails keeps a zero relevance and the error as its reasoning; the
// stage only fails when no thread could be scored.
func (o *Orchestrator) score(ctx context.Context, r *run) (stageResult, error) {
	if len(r.threads) == 0 {
		return stageResult{skipped: true, message: "no threads to score"}, nil
	}
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limits.ScoreConcurrency)
	for i := range r.threads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			th := &r.threads[i]
			s, err := o.deps.Generator.Score(gctx, *th, r.business)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				metrics.ObserveScore("failed")
				th.Scored = false
				th.Relevance = 0
				th.Reasoning = err.Error()
				return nil
			}
			metrics.ObserveScore("scored")
			th.Scored = true
			th.Relevance = s.Value
			th.Reasoning = s.Reasoning
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stageResult{}, err
	}
	slices.SortStableFunc(r.threads, func(a, b leadgen.RedditThread) int { return b.Relevance - a.Relevance })

	n := int(failed.Load())
	if n == len(r.threads) {
		return stageResult{}, fmt.Errorf("scoring failed for all %d threads: %s", n, r.threads[0].Reasoning)
	}
	res := stageResult{count: len(r.threads) - n}
	if n > 0 {
		res.message = fmt.Sprintf("%d threads unscored", n)
	}
	return res, nil
}

func (o *Orchestrator) generate(ctx context.Context, r *run) (stageResult, error) {
	var leads []int
	for i, th := range r.threads {
		if th.Scored && th.Relevance >= r.limits.ScoreThreshold {
			leads = append(leads, i)
		}
	}
	if len(leads) == 0 {
		return stageResult{skipped: true, message: "no threads above threshold"}, nil
	}

	drafts := make([]*leadgen.GeneratedComment, len(leads))
	var (
		mu      sync.Mutex
		failed  int
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limits.ScoreConcurrency)
	for slot, idx := range leads {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			th := r.threads[idx]
			c, err := o.deps.Generator.Comments(gctx, th, r.business)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failed++
				lastErr = err
				mu.Unlock()
				o.logger.Warn("comment generation failed", zap.String("thread_id", th.RedditID), zap.Error(err))
				return nil
			}
			dm, err := o.deps.Generator.DM(gctx, th, r.business)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Warn("dm generation failed", zap.String("thread_id", th.RedditID), zap.Error(err))
			}
			id, err := o.deps.IDs.NewID()
			if err != nil {
				return fmt.Errorf("generate comment id: %w", err)
			}
			now := o.deps.Clock.Now()
			drafts[slot] = &leadgen.GeneratedComment{
				ID:         id,
				CampaignID: r.campaign.ID,
				ThreadID:   th.ID,
				RedditID:   th.RedditID,
				Subreddit:  th.Subreddit,
				Author:     th.Author,
				Relevance:  th.Relevance,
				Micro:      c.Micro,
				Medium:     c.Medium,
				Verbose:    c.Verbose,
				DMSubject:  dm.Subject,
				DMBody:     dm.Body,
				Status:     leadgen.CommentDraft,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stageResult{}, err
	}
	for _, d := range drafts {
		if d != nil {
			r.comments = append(r.comments, *d)
		}
	}
	if len(r.comments) == 0 {
		return stageResult{}, fmt.Errorf("comment generation failed for all %d leads: %w", len(leads), lastErr)
	}
	res := stageResult{count: len(r.comments)}
	if failed > 0 {
		res.message = fmt.Sprintf("%d leads without comments", failed)
	}
	return res, nil
}

// persist writes the website snapshot, replaces the campaign's results and
// charges the scored threads against the organization's quota.
func (o *Orchestrator) persist(ctx context.Context, r *run) (stageResult, error) {
	var notes []string
	if uri, err := o.storeSnapshot(ctx, r); err != nil {
		o.logger.Warn("website snapshot failed", zap.String("run_id", r.req.RunID), zap.Error(err))
		notes = append(notes, "snapshot not stored")
	} else {
		r.snapshot = uri
	}

	err := retry.Do(ctx, o.deps.Retry, func(ctx context.Context) error {
		return o.deps.Results.ReplaceResults(ctx, r.campaign.ID, r.results, r.threads, r.comments)
	})
	if err != nil {
		return stageResult{}, fmt.Errorf("replace results: %w", err)
	}

	if n := scoredCount(r.threads); n > 0 {
		err := o.deps.Orgs.AddUsage(ctx, r.req.OrganizationID, usagePeriod(r.started), n)
		if err != nil && !errors.Is(err, leadgen.ErrNotFound) {
			o.logger.Warn("usage update failed", zap.String("organization_id", r.req.OrganizationID), zap.Error(err))
			notes = append(notes, "usage not recorded")
		}
	}
	return stageResult{
		count:   len(r.results) + len(r.threads) + len(r.comments),
		message: strings.Join(notes, "; "),
	}, nil
}

func scoredCount(threads []leadgen.RedditThread) int {
	n := 0
	for _, th := range threads {
		if th.Scored {
			n++
		}
	}
	return n
}

func (o *Orchestrator) storeSnapshot(ctx context.Context, r *run) (string, error) {
	if o.deps.Blobs == nil || r.website.URL == "" {
		return "", nil
	}
	data, err := json.Marshal(r.website)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	name := r.req.RunID
	if o.deps.Hasher != nil {
		digest, err := o.deps.Hasher.Hash(data)
		if err != nil {
			return "", fmt.Errorf("hash snapshot: %w", err)
		}
		name = digest
	}
	path := fmt.Sprintf("%s/%s/%s.json", strings.Trim(o.cfg.BlobPrefix, "/"), r.campaign.ID, name)
	uri, err := o.deps.Blobs.PutObject(ctx, path, "application/json", data)
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

func businessContext(c leadgen.Campaign, site leadgen.Website) string {
	var b strings.Builder
	if c.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", c.Name)
	}
	if c.BusinessDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.BusinessDescription)
	}
	if site.URL != "" {
		fmt.Fprintf(&b, "Website: %s\n", site.URL)
	}
	if site.Title != "" {
		fmt.Fprintf(&b, "Site title: %s\n", site.Title)
	}
	if site.Description != "" {
		fmt.Fprintf(&b, "Site summary: %s\n", site.Description)
	}
	return strings.TrimSpace(b.String())
}
