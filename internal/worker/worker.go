// Package worker implements the workflow run execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
)

// Runner executes one workflow run.
type Runner interface {
	RunWithLimits(ctx context.Context, req leadgen.RunRequest) (leadgen.WorkflowProgress, error)
}

// Config controls Worker behavior.
type Config struct {
	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes run requests and executes them.
type Worker struct {
	queue  leadgen.RunQueue
	runner Runner
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue leadgen.RunQueue, runner Runner, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, consuming run requests until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, leadgen.ErrQueueClosed) {
				if errors.Unwrap(err) != nil {
					w.logger.Error("run queue failed", zap.Error(err))
				} else {
					w.logger.Info("run queue closed")
				}
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", req.RunID), zap.String("campaign_id", req.CampaignID))
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req leadgen.RunRequest) {
	if w.runner == nil {
		w.logger.Error("no runner configured", zap.String("run_id", req.RunID))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	p, err := w.runner.RunWithLimits(runCtx, req)
	switch {
	case err == nil:
		w.logger.Info("run finished",
			zap.String("run_id", req.RunID),
			zap.String("status", string(p.Status)))
	case errors.Is(err, leadgen.ErrStopped):
		w.logger.Info("run stopped", zap.String("run_id", req.RunID))
	default:
		w.logger.Error("run failed",
			zap.String("run_id", req.RunID),
			zap.String("campaign_id", req.CampaignID),
			zap.Error(err))
	}
}
