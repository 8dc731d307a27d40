package postqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// DefaultSpec runs the queue pass once a minute.
const DefaultSpec = "@every 1m"

// Processor drives ProcessDue on a cron schedule. Overlapping ticks are skipped.
type Processor struct {
	svc     *Service
	clock   leadgen.Clock
	spec    string
	timeout time.Duration
	logger  *zap.Logger

	cron    *cron.Cron
	busy    atomic.Bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewProcessor builds a Processor. An empty spec means DefaultSpec; timeout
// bounds a single pass and defaults to 50 seconds.
func NewProcessor(svc *Service, spec string, timeout time.Duration, logger *zap.Logger) *Processor {
	if spec == "" {
		spec = DefaultSpec
	}
	if timeout <= 0 {
		timeout = 50 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		svc:     svc,
		clock:   svc.deps.Clock,
		spec:    spec,
		timeout: timeout,
		logger:  logger.Named("queue_processor"),
	}
}

// Start registers the job and starts the scheduler.
func (p *Processor) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(p.spec, p.Tick); err != nil {
		return fmt.Errorf("schedule queue processor %q: %w", p.spec, err)
	}
	p.baseCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.cron = c
	p.cron.Start()
	p.logger.Info("queue processor started", zap.String("spec", p.spec))
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish or ctx to end.
func (p *Processor) Stop(ctx context.Context) error {
	if p.cron == nil {
		return nil
	}
	stopped := p.cron.Stop()
	p.cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("queue processor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop queue processor: %w", ctx.Err())
	}
}

// Tick runs one pass unless another is still in flight.
func (p *Processor) Tick() {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("previous queue pass still running, skipping tick")
		return
	}
	p.wg.Add(1)
	defer func() {
		p.busy.Store(false)
		p.wg.Done()
	}()

	base := p.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, p.timeout)
	defer cancel()
	if _, err := p.svc.ProcessDue(ctx, p.clock.Now()); err != nil {
		p.logger.Error("queue pass failed", zap.Error(err))
	}
}
