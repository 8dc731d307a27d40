package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	queuememory "github.com/JakeFAU/reddit-leadgen/internal/queue/memory"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  []leadgen.RunRequest
	errs  map[string]error
	block bool
}

func (f *fakeRunner) RunWithLimits(ctx context.Context, req leadgen.RunRequest) (leadgen.WorkflowProgress, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	block := f.block
	err := f.errs[req.RunID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return leadgen.WorkflowProgress{RunID: req.RunID, Status: leadgen.RunError}, ctx.Err()
	}
	if err != nil {
		return leadgen.WorkflowProgress{RunID: req.RunID, Status: leadgen.RunError}, err
	}
	return leadgen.WorkflowProgress{RunID: req.RunID, Status: leadgen.RunCompleted}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func TestWorker_ProcessesRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(4)
	runner := &fakeRunner{errs: map[string]error{
		"run-2": errors.New("boom"),
		"run-3": leadgen.ErrStopped,
	}}
	core, logs := observer.New(zap.InfoLevel)
	w := New(queue, runner, Config{}, zap.New(core))

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, queue.Enqueue(ctx, leadgen.RunRequest{RunID: id, CampaignID: "c"}))
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Equal(t, 1, logs.FilterMessage("run finished").Len())
	require.Equal(t, 1, logs.FilterMessage("run failed").Len())
	require.Equal(t, 1, logs.FilterMessage("run stopped").Len())
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	queue := queuememory.NewQueue(1)
	w := New(queue, &fakeRunner{}, Config{}, zap.NewNop())
	queue.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after queue close")
	}
}

// brokenQueue fails every Dequeue the way a dead subscription does.
type brokenQueue struct{ err error }

func (q brokenQueue) Enqueue(context.Context, leadgen.RunRequest) error { return q.err }

func (q brokenQueue) Dequeue(context.Context) (leadgen.RunRequest, error) {
	return leadgen.RunRequest{}, q.err
}

func TestWorker_ExitsWhenSubscriptionFails(t *testing.T) {
	t.Parallel()

	cause := errors.New("subscription not found")
	queue := brokenQueue{err: fmt.Errorf("run subscription stopped: %w", errors.Join(leadgen.ErrQueueClosed, cause))}
	core, logs := observer.New(zap.InfoLevel)
	w := New(queue, &fakeRunner{}, Config{}, zap.New(core))

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker kept polling a failed queue")
	}
	require.Equal(t, 1, logs.FilterMessage("run queue failed").Len())
	require.Zero(t, logs.FilterMessage("run queue closed").Len())
}

func TestWorker_RunTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := queuememory.NewQueue(1)
	runner := &fakeRunner{block: true}
	core, logs := observer.New(zap.InfoLevel)
	w := New(queue, runner, Config{RunTimeout: 10 * time.Millisecond}, zap.New(core))
	require.NoError(t, queue.Enqueue(ctx, leadgen.RunRequest{RunID: "slow"}))

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("run failed").Len() == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWorker_NilRunner(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	w := New(nil, nil, Config{}, zap.New(core))
	w.process(context.Background(), leadgen.RunRequest{RunID: "r"})
	require.Equal(t, 1, logs.FilterMessage("no runner configured").Len())
}
