// Package dispatcher runs the worker pool that drains the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/worker"
)

// restartDelay spaces out restarts of a worker that panicked.
const restartDelay = time.Second

// Loop is one worker's consume loop. *worker.Worker satisfies it.
type Loop interface {
	Run(ctx context.Context)
}

// Dispatcher supervises a fixed set of worker loops. A loop that panics is
// logged and restarted, so one bad run cannot shrink the pool.
type Dispatcher struct {
	loops  []Loop
	logger *zap.Logger
}

// New creates a Dispatcher over loops.
func New(loops []Loop, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{loops: loops, logger: logger.Named("dispatcher")}
}

// NewPool builds n workers that share queue and runner.
func NewPool(queue leadgen.RunQueue, runner worker.Runner, n int, cfg worker.Config, logger *zap.Logger) *Dispatcher {
	if n <= 0 {
		n = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loops := make([]Loop, 0, n)
	for i := 0; i < n; i++ {
		loops = append(loops, worker.New(queue, runner, cfg, logger.With(zap.Int("worker", i))))
	}
	return New(loops, logger)
}

// Size reports how many workers the dispatcher runs.
func (d *Dispatcher) Size() int {
	return len(d.loops)
}

// Run starts every loop and blocks until all have returned, which happens when
// ctx ends or the queue is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.loops)))
	var g errgroup.Group
	for i, loop := range d.loops {
		g.Go(func() error {
			d.supervise(ctx, i, loop)
			return nil
		})
	}
	_ = g.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) supervise(ctx context.Context, id int, loop Loop) {
	for {
		err := runLoop(ctx, loop)
		if err == nil || ctx.Err() != nil {
			return
		}
		d.logger.Error("worker crashed, restarting", zap.Int("worker", id), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func runLoop(ctx context.Context, loop Loop) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	loop.Run(ctx)
	return nil
}
