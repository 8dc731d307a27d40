package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/progress"
)

// run is the mutable state of one execution.
type run struct {
	req      leadgen.RunRequest
	progress leadgen.WorkflowProgress
	campaign leadgen.Campaign
	org      leadgen.Organization
	limits   leadgen.RunLimits
	started  time.Time

	website  leadgen.Website
	business string
	keywords []string
	hits     []threadHit
	results  []leadgen.SearchResult
	threads  []leadgen.RedditThread
	comments []leadgen.GeneratedComment
	snapshot string
}

type stageResult struct {
	count   int
	message string
	skipped bool
}

type stageFunc func(ctx context.Context, r *run) (stageResult, error)

func (o *Orchestrator) stages() []struct {
	name leadgen.StageName
	fn   stageFunc
} {
	return []struct {
		name leadgen.StageName
		fn   stageFunc
	}{
		{leadgen.StageScrape, o.scrape},
		{leadgen.StageKeywords, o.generateKeywords},
		{leadgen.StageSearch, o.search},
		{leadgen.StageFetch, o.fetch},
		{leadgen.StageScore, o.score},
		{leadgen.StageGenerate, o.generate},
		{leadgen.StagePersist, o.persist},
	}
}

// RunWithLimits executes every stage of a run in order. The progress record is
// created when missing so runs can be executed without Submit (CLI, tests).
// It returns leadgen.ErrStopped when the run was stopped.
func (o *Orchestrator) RunWithLimits(ctx context.Context, req leadgen.RunRequest) (leadgen.WorkflowProgress, error) {
	p, err := o.deps.Progress.GetProgress(ctx, req.RunID)
	switch {
	case errors.Is(err, leadgen.ErrNotFound):
		p = leadgen.NewWorkflowProgress(req.RunID, req.CampaignID, req.OrganizationID, req.Limits, o.deps.Clock.Now())
	case err != nil:
		return leadgen.WorkflowProgress{}, fmt.Errorf("load progress: %w", err)
	case p.Status == leadgen.RunStopped:
		o.logger.Info("skipping stopped run", zap.String("run_id", req.RunID))
		return p, leadgen.ErrStopped
	case p.Status.Terminal():
		return p, fmt.Errorf("run %s already %s: %w", req.RunID, p.Status, leadgen.ErrConflict)
	}

	runCtx, done := o.track(ctx, req.RunID)
	defer done()

	r := &run{req: req, progress: p, started: o.deps.Clock.Now()}
	err = o.execute(runCtx, r)
	return r.progress, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	ctx, span := o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run_id", r.req.RunID),
		attribute.String("campaign_id", r.req.CampaignID),
	))
	defer span.End()

	if err := o.prepare(ctx, r); err != nil {
		if errors.Is(err, leadgen.ErrStopped) {
			return o.finishStopped(context.WithoutCancel(ctx), r, "")
		}
		span.SetStatus(codes.Error, err.Error())
		return o.fail(context.WithoutCancel(ctx), &r.progress, r.campaign, "", err)
	}
	o.emit(progress.Event{RunID: r.req.RunID, CampaignID: r.req.CampaignID, Kind: progress.KindRunStart})

	for _, st := range o.stages() {
		if o.shouldStop(ctx, r) {
			return o.finishStopped(context.WithoutCancel(ctx), r, "")
		}
		if err := o.runStage(ctx, r, st.name, st.fn); err != nil {
			if errors.Is(err, leadgen.ErrStopped) || o.shouldStop(ctx, r) {
				return o.finishStopped(context.WithoutCancel(ctx), r, st.name)
			}
			span.SetStatus(codes.Error, err.Error())
			return o.fail(context.WithoutCancel(ctx), &r.progress, r.campaign, st.name, err)
		}
	}
	return o.finishCompleted(ctx, r)
}

// prepare loads the campaign and organization and resolves the run's limits.
func (o *Orchestrator) prepare(ctx context.Context, r *run) error {
	campaign, err := o.deps.Campaigns.GetCampaign(ctx, r.req.OrganizationID, r.req.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	r.campaign = campaign

	org, err := o.deps.Orgs.GetOrganization(ctx, r.req.OrganizationID)
	switch {
	case errors.Is(err, leadgen.ErrNotFound):
		org = leadgen.Organization{ID: r.req.OrganizationID}
	case err != nil:
		return fmt.Errorf("load organization: %w", err)
	}
	r.org = org

	limits := mergeLimits(r.req.Limits, o.cfg.Limits)
	remaining := org.RemainingThreads(usagePeriod(r.started))
	if remaining == 0 {
		return fmt.Errorf("organization %s has no threads left this month: %w", org.ID, leadgen.ErrQuotaExceeded)
	}
	if remaining > 0 && remaining < limits.MaxThreads {
		limits.MaxThreads = remaining
	}
	r.limits = limits

	r.progress.Status = leadgen.RunRunning
	r.progress.Limits = limits
	r.progress.Error = ""
	if err := o.save(ctx, r); err != nil {
		return err
	}

	campaign.Status = leadgen.CampaignRunning
	campaign.StatusMessage = ""
	campaign.LastRunID = r.req.RunID
	campaign.UpdatedAt = o.deps.Clock.Now()
	if err := o.deps.Campaigns.UpdateCampaign(ctx, campaign); err != nil {
		return fmt.Errorf("mark campaign running: %w", err)
	}
	r.campaign = campaign
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, name leadgen.StageName, fn stageFunc) error {
	ctx, span := o.tracer.Start(ctx, "workflow."+string(name))
	defer span.End()

	st := r.progress.Stage(name)
	started := o.deps.Clock.Now()
	st.Status = leadgen.StageInProgress
	st.StartedAt = &started
	r.progress.CurrentStage = name
	if err := o.save(ctx, r); err != nil {
		return err
	}
	o.emit(progress.Event{RunID: r.req.RunID, CampaignID: r.req.CampaignID, Kind: progress.KindStageStart, Stage: name})

	res, err := fn(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	finished := o.deps.Clock.Now()
	st.Status = leadgen.StageCompleted
	if res.skipped {
		st.Status = leadgen.StageSkipped
	}
	st.Count = res.count
	st.Message = res.message
	st.FinishedAt = &finished
	span.SetAttributes(attribute.Int("count", res.count))
	if err := o.save(ctx, r); err != nil {
		return err
	}
	o.emit(progress.Event{
		RunID:      r.req.RunID,
		CampaignID: r.req.CampaignID,
		Kind:       progress.KindStageDone,
		Stage:      name,
		Count:      res.count,
		Dur:        finished.Sub(started),
	})
	o.logger.Debug("stage finished",
		zap.String("run_id", r.req.RunID),
		zap.String("stage", string(name)),
		zap.Int("count", res.count),
		zap.String("status", string(st.Status)))
	return nil
}

// shouldStop reports whether the run was stopped locally or through the
// progress record by another instance.
func (o *Orchestrator) shouldStop(ctx context.Context, r *run) bool {
	if o.stopRequested(r.req.RunID) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	p, err := o.deps.Progress.GetProgress(ctx, r.req.RunID)
	if err != nil {
		return false
	}
	return p.Status == leadgen.RunStopped
}

// save writes the progress record. It returns leadgen.ErrStopped when the
// store refused the write because the run was stopped meanwhile; other write
// failures are logged and the run carries on.
func (o *Orchestrator) save(ctx context.Context, r *run) error {
	r.progress.UpdatedAt = o.deps.Clock.Now()
	err := o.deps.Progress.PutProgress(ctx, r.progress)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leadgen.ErrStopped):
		return err
	default:
		o.logger.Warn("progress write failed", zap.String("run_id", r.req.RunID), zap.Error(err))
		return nil
	}
}

func (o *Orchestrator) finishCompleted(ctx context.Context, r *run) error {
	now := o.deps.Clock.Now()
	r.progress.Status = leadgen.RunCompleted
	r.progress.CurrentStage = ""
	if err := o.save(ctx, r); err != nil {
		return o.finishStopped(context.WithoutCancel(ctx), r, "")
	}

	campaign := r.campaign
	campaign.Status = leadgen.CampaignCompleted
	campaign.StatusMessage = ""
	campaign.ThreadsFound = len(r.threads)
	campaign.CommentsGenerated = len(r.comments)
	if r.snapshot != "" {
		campaign.WebsiteSnapshotURI = r.snapshot
	}
	campaign.UpdatedAt = now
	if err := o.deps.Campaigns.UpdateCampaign(ctx, campaign); err != nil {
		o.logger.Warn("mark campaign completed failed", zap.String("campaign_id", campaign.ID), zap.Error(err))
	}

	o.publish(ctx, leadgen.TopicWorkflowCompleted, leadgen.Event{
		Type:           leadgen.TopicWorkflowCompleted,
		OrganizationID: r.req.OrganizationID,
		SubjectID:      r.req.RunID,
		OccurredAt:     now,
		Data: map[string]any{
			"campaign_id":        r.req.CampaignID,
			"keywords":           len(r.keywords),
			"search_results":     len(r.results),
			"threads":            len(r.threads),
			"comments_generated": len(r.comments),
		},
	})
	o.emit(progress.Event{
		RunID:      r.req.RunID,
		CampaignID: r.req.CampaignID,
		Kind:       progress.KindRunDone,
		Dur:        now.Sub(r.started),
	})
	o.logger.Info("run completed",
		zap.String("run_id", r.req.RunID),
		zap.Int("threads", len(r.threads)),
		zap.Int("comments", len(r.comments)))
	return nil
}

func (o *Orchestrator) finishStopped(ctx context.Context, r *run, stage leadgen.StageName) error {
	if stage != "" {
		if st := r.progress.Stage(stage); st != nil && st.Status == leadgen.StageInProgress {
			now := o.deps.Clock.Now()
			st.Status = leadgen.StageSkipped
			st.Message = "stopped"
			st.FinishedAt = &now
		}
	}
	r.progress.Status = leadgen.RunStopped
	_ = o.save(ctx, r)
	o.markCampaign(ctx, r.req.OrganizationID, r.req.CampaignID, r.req.RunID, leadgen.CampaignStopped, "stopped by user")
	o.emit(progress.Event{
		RunID:      r.req.RunID,
		CampaignID: r.req.CampaignID,
		Kind:       progress.KindRunStopped,
		Stage:      stage,
		Dur:        o.deps.Clock.Now().Sub(r.started),
	})
	o.logger.Info("run stopped", zap.String("run_id", r.req.RunID), zap.String("stage", string(stage)))
	return leadgen.ErrStopped
}

// fail short-circuits a run: the stage (when set) and the run are marked as
// errored and so is the campaign.
func (o *Orchestrator) fail(
	ctx context.Context,
	p *leadgen.WorkflowProgress,
	campaign leadgen.Campaign,
	stage leadgen.StageName,
	cause error,
) error {
	now := o.deps.Clock.Now()
	msg := cause.Error()
	if stage != "" {
		if st := p.Stage(stage); st != nil {
			st.Status = leadgen.StageError
			st.Message = msg
			st.FinishedAt = &now
		}
		o.emit(progress.Event{RunID: p.RunID, CampaignID: p.CampaignID, Kind: progress.KindStageError, Stage: stage, Note: msg})
	}
	p.Status = leadgen.RunError
	p.Error = msg
	p.UpdatedAt = now
	if err := o.deps.Progress.PutProgress(ctx, *p); err != nil {
		if errors.Is(err, leadgen.ErrStopped) {
			o.logger.Info("run stopped before failure was recorded", zap.String("run_id", p.RunID), zap.Error(cause))
			return leadgen.ErrStopped
		}
		o.logger.Warn("progress write failed", zap.String("run_id", p.RunID), zap.Error(err))
	}

	if campaign.ID != "" {
		campaign.Status = leadgen.CampaignError
		campaign.StatusMessage = msg
		campaign.UpdatedAt = now
		if err := o.deps.Campaigns.UpdateCampaign(ctx, campaign); err != nil {
			o.logger.Warn("mark campaign errored failed", zap.String("campaign_id", campaign.ID), zap.Error(err))
		}
	}

	o.publish(ctx, leadgen.TopicWorkflowFailed, leadgen.Event{
		Type:           leadgen.TopicWorkflowFailed,
		OrganizationID: p.OrganizationID,
		SubjectID:      p.RunID,
		OccurredAt:     now,
		Data:           map[string]any{"campaign_id": p.CampaignID, "stage": string(stage), "error": msg},
	})
	o.emit(progress.Event{RunID: p.RunID, CampaignID: p.CampaignID, Kind: progress.KindRunError, Note: msg})
	o.logger.Warn("run failed",
		zap.String("run_id", p.RunID),
		zap.String("stage", string(stage)),
		zap.Error(cause))
	if stage == "" {
		return cause
	}
	return fmt.Errorf("stage %s: %w", stage, cause)
}
