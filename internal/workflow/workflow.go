// Package workflow runs the lead-generation pipeline for a campaign:
// scrape, keywords, search, fetch, score, generate and persist. Each stage
// transition is written to the run's progress record; a failing stage stops
// the run and marks the campaign as errored.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/generator"
	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/progress"
	"github.com/JakeFAU/reddit-leadgen/internal/retry"
)

// DefaultLimits are applied to any zero field of a run request.
var DefaultLimits = leadgen.RunLimits{
	MaxKeywords:          5,
	MaxResultsPerKeyword: 10,
	MaxThreads:           30,
	ScoreThreshold:       70,
	ScoreConcurrency:     4,
}

// ContentGenerator produces the LLM-backed artifacts of a run.
type ContentGenerator interface {
	Keywords(ctx context.Context, site leadgen.Website, business string, limit int) ([]string, error)
	Score(ctx context.Context, thread leadgen.RedditThread, business string) (generator.Score, error)
	Comments(ctx context.Context, thread leadgen.RedditThread, business string) (generator.Comments, error)
	DM(ctx context.Context, thread leadgen.RedditThread, business string) (generator.DM, error)
}

// ThreadFetcher loads a Reddit submission with its top comments.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, threadID string, commentLimit int) (leadgen.RedditThread, error)
}

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Orgs      leadgen.OrgStore
	Campaigns leadgen.CampaignStore
	Results   leadgen.ResultStore
	Progress  leadgen.ProgressStore
	Queue     leadgen.RunQueue
	Blobs     leadgen.BlobStore
	Publisher leadgen.Publisher
	Scraper   leadgen.Scraper
	Search    leadgen.SearchProvider
	Threads   ThreadFetcher
	Generator ContentGenerator
	Hasher    leadgen.Hasher
	Clock     leadgen.Clock
	IDs       leadgen.IDGenerator
	Emitter   progress.Emitter
	// Retry covers the result store write. Scraper, Search, Threads and the
	// LLM behind Generator retry their own transport failures.
	Retry retry.Policy
}

// Config tunes an Orchestrator.
type Config struct {
	Limits       leadgen.RunLimits
	CommentLimit int
	BlobPrefix   string
}

// Orchestrator executes and tracks workflow runs.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	active  map[string]context.CancelFunc
	stopped map[string]bool
}

// New validates deps and constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Orgs == nil, deps.Campaigns == nil, deps.Results == nil, deps.Progress == nil:
		return nil, errors.New("workflow: stores are required")
	case deps.Scraper == nil, deps.Search == nil, deps.Threads == nil, deps.Generator == nil:
		return nil, errors.New("workflow: scraper, search, thread fetcher and generator are required")
	case deps.Clock == nil, deps.IDs == nil:
		return nil, errors.New("workflow: clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Limits = mergeLimits(cfg.Limits, DefaultLimits)
	if cfg.CommentLimit <= 0 {
		cfg.CommentLimit = 10
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "snapshots"
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.Named("workflow"),
		tracer:  otel.Tracer("github.com/JakeFAU/reddit-leadgen/internal/workflow"),
		active:  make(map[string]context.CancelFunc),
		stopped: make(map[string]bool),
	}, nil
}

// Submit records a queued run for the campaign and hands it to the run queue.
func (o *Orchestrator) Submit(
	ctx context.Context,
	orgID, campaignID string,
	limits leadgen.RunLimits,
) (leadgen.WorkflowProgress, error) {
	if o.deps.Queue == nil {
		return leadgen.WorkflowProgress{}, errors.New("workflow: run queue is not configured")
	}
	campaign, err := o.deps.Campaigns.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status == leadgen.CampaignRunning {
		return leadgen.WorkflowProgress{}, fmt.Errorf("campaign %s already running run %s: %w",
			campaignID, campaign.LastRunID, leadgen.ErrConflict)
	}
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("generate run id: %w", err)
	}
	now := o.deps.Clock.Now()
	limits = mergeLimits(limits, o.cfg.Limits)
	p := leadgen.NewWorkflowProgress(runID, campaignID, orgID, limits, now)
	if err := o.deps.Progress.PutProgress(ctx, p); err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("create progress: %w", err)
	}

	campaign.Status = leadgen.CampaignRunning
	campaign.StatusMessage = ""
	campaign.LastRunID = runID
	campaign.UpdatedAt = now
	if err := o.deps.Campaigns.UpdateCampaign(ctx, campaign); err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("mark campaign running: %w", err)
	}

	req := leadgen.RunRequest{
		RunID:          runID,
		CampaignID:     campaignID,
		OrganizationID: orgID,
		Limits:         limits,
		Submitted:      now,
	}
	if err := o.deps.Queue.Enqueue(ctx, req); err != nil {
		o.fail(context.WithoutCancel(ctx), &p, campaign, "", err)
		return leadgen.WorkflowProgress{}, fmt.Errorf("enqueue run: %w", err)
	}
	o.logger.Info("run submitted", zap.String("run_id", runID), zap.String("campaign_id", campaignID))
	return p, nil
}

// Stop requests that a run end. A run executing in this process is canceled
// right away; a queued run is marked stopped and skipped when dequeued; a run
// on another instance notices the flag at its next stage boundary.
func (o *Orchestrator) Stop(ctx context.Context, orgID, runID string) (leadgen.WorkflowProgress, error) {
	p, err := o.deps.Progress.GetProgress(ctx, runID)
	if err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("load progress: %w", err)
	}
	if p.OrganizationID != orgID {
		return leadgen.WorkflowProgress{}, fmt.Errorf("run %s: %w", runID, leadgen.ErrNotFound)
	}
	if p.Status.Terminal() {
		return p, nil
	}

	o.mu.Lock()
	cancel, running := o.active[runID]
	if running {
		o.stopped[runID] = true
	}
	o.mu.Unlock()
	if running {
		cancel()
	}

	p.Status = leadgen.RunStopped
	p.UpdatedAt = o.deps.Clock.Now()
	if err := o.deps.Progress.PutProgress(ctx, p); err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("mark run stopped: %w", err)
	}
	if !running {
		o.markCampaign(ctx, orgID, p.CampaignID, runID, leadgen.CampaignStopped, "stopped by user")
	}
	o.logger.Info("run stop requested", zap.String("run_id", runID), zap.Bool("local", running))
	return p, nil
}

// Progress returns a run's progress record scoped to orgID.
func (o *Orchestrator) Progress(ctx context.Context, orgID, runID string) (leadgen.WorkflowProgress, error) {
	p, err := o.deps.Progress.GetProgress(ctx, runID)
	if err != nil {
		return leadgen.WorkflowProgress{}, fmt.Errorf("load progress: %w", err)
	}
	if p.OrganizationID != orgID {
		return leadgen.WorkflowProgress{}, fmt.Errorf("run %s: %w", runID, leadgen.ErrNotFound)
	}
	return p, nil
}

// Active reports how many runs this process is executing.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) track(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.active[runID] = cancel
	o.mu.Unlock()
	return runCtx, func() {
		cancel()
		o.mu.Lock()
		delete(o.active, runID)
		delete(o.stopped, runID)
		o.mu.Unlock()
	}
}

func (o *Orchestrator) stopRequested(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped[runID]
}

func (o *Orchestrator) markCampaign(
	ctx context.Context,
	orgID, campaignID, runID string,
	status leadgen.CampaignStatus,
	message string,
) {
	campaign, err := o.deps.Campaigns.GetCampaign(ctx, orgID, campaignID)
	if err != nil {
		o.logger.Warn("load campaign for status update failed", zap.String("campaign_id", campaignID), zap.Error(err))
		return
	}
	if campaign.LastRunID != "" && campaign.LastRunID != runID {
		return
	}
	campaign.Status = status
	campaign.StatusMessage = message
	campaign.UpdatedAt = o.deps.Clock.Now()
	if err := o.deps.Campaigns.UpdateCampaign(ctx, campaign); err != nil {
		o.logger.Warn("campaign status update failed", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = o.deps.Clock.Now()
	}
	o.deps.Emitter.Emit(evt)
}

func (o *Orchestrator) publish(ctx context.Context, topic string, ev leadgen.Event) {
	if o.deps.Publisher == nil {
		return
	}
	if _, err := o.deps.Publisher.Publish(ctx, topic, ev); err != nil {
		o.logger.Warn("publish event failed", zap.String("topic", topic), zap.Error(err))
	}
}

func mergeLimits(req, defaults leadgen.RunLimits) leadgen.RunLimits {
	if req.MaxKeywords <= 0 {
		req.MaxKeywords = defaults.MaxKeywords
	}
	if req.MaxResultsPerKeyword <= 0 {
		req.MaxResultsPerKeyword = defaults.MaxResultsPerKeyword
	}
	if req.MaxThreads <= 0 {
		req.MaxThreads = defaults.MaxThreads
	}
	if req.ScoreThreshold <= 0 {
		req.ScoreThreshold = defaults.ScoreThreshold
	}
	if req.ScoreThreshold > 100 {
		req.ScoreThreshold = 100
	}
	if req.ScoreConcurrency <= 0 {
		req.ScoreConcurrency = defaults.ScoreConcurrency
	}
	return req
}

// usagePeriod is the monthly quota bucket for t.
func usagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
