package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/worker"
)

func runAsync(ctx context.Context, d *Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	return done
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	d := New([]Loop{worker.New(queue, nil, worker.Config{}, nil)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestNewPoolRunsConcurrently(t *testing.T) {
	t.Parallel()

	queue := &sliceQueue{items: make(chan leadgen.RunRequest, 8)}
	runner := &countingRunner{}
	d := NewPool(queue, runner, 3, worker.Config{}, nil)
	require.Equal(t, 3, d.Size())
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Enqueue(context.Background(), leadgen.RunRequest{RunID: fmt.Sprintf("run-%d", i)}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)
	require.Eventually(t, func() bool { return runner.n.Load() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestDispatcherRestartsPanickedLoop(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	loop := &panickyLoop{}
	d := New([]Loop{loop}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, d)
	require.Eventually(t, func() bool { return loop.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 1, logs.FilterMessage("worker crashed, restarting").Len())
}

// panickyLoop panics on its first run and then waits for cancellation.
type panickyLoop struct {
	calls atomic.Int32
}

func (l *panickyLoop) Run(ctx context.Context) {
	if l.calls.Add(1) == 1 {
		panic("runner exploded")
	}
	<-ctx.Done()
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, leadgen.RunRequest) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (leadgen.RunRequest, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return leadgen.RunRequest{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type sliceQueue struct {
	items chan leadgen.RunRequest
}

func (q *sliceQueue) Enqueue(_ context.Context, req leadgen.RunRequest) error {
	q.items <- req
	return nil
}

func (q *sliceQueue) Dequeue(ctx context.Context) (leadgen.RunRequest, error) {
	select {
	case <-ctx.Done():
		return leadgen.RunRequest{}, ctx.Err()
	case req := <-q.items:
		return req, nil
	}
}

type countingRunner struct {
	n atomic.Int64
}

func (r *countingRunner) RunWithLimits(_ context.Context, req leadgen.RunRequest) (leadgen.WorkflowProgress, error) {
	r.n.Add(1)
	return leadgen.WorkflowProgress{RunID: req.RunID, Status: leadgen.RunCompleted}, nil
}
