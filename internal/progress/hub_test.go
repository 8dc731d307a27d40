package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/reddit-leadgen/internal/metrics"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(KindRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers and
// counts the dropped event.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	before := testutil.ToFloat64(metrics.ProgressDropped(string(KindStageError)))
	start := time.Now()
	hub.Emit(sampleEvent(KindStageError))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.ProgressDropped(string(KindStageError))))
}

// TestHubTerminalEventFlushesImmediately checks run outcomes skip the batch window.
func TestHubTerminalEventFlushesImmediately(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 50,
		MaxBatchWait:   time.Hour,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(KindRunStart))
	hub.Emit(sampleEvent(KindStageDone))
	hub.Emit(sampleEvent(KindRunDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 3
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, KindRunDone, sink.Batches()[0][2].Kind)
}

// TestHubBatchWindowNotExtended checks a steady trickle still flushes on the
// first event's deadline.
func TestHubBatchWindowNotExtended(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     64,
		MaxBatchEvents: 1000,
		MaxBatchWait:   50 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	stop := time.After(400 * time.Millisecond)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for done := false; !done; {
		select {
		case <-tick.C:
			hub.Emit(sampleEvent(KindStageStart))
		case <-stop:
			done = true
		}
	}
	require.GreaterOrEqual(t, len(sink.Batches()), 2)
}

// TestHubSkipsNilSinks ensures nil sinks do not panic delivery or close.
func TestHubSkipsNilSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, nil, sink)
	hub.Emit(sampleEvent(KindRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

// TestHubFlushOnClose ensures Close drains any buffered events before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	evt := sampleEvent(KindRunStart)
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

// TestHubDiscardsInvalidEvents ensures malformed events never reach sinks.
func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)

	hub.Emit(Event{Kind: KindRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: "run-1", Kind: KindStageDone, TS: time.Now()})
	hub.Emit(sampleEvent(KindRunDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Equal(t, KindRunDone, sink.Batches()[0][0].Kind)
}

// TestHubNilSafe ensures a nil hub can be used as a disabled emitter.
func TestHubNilSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(KindRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, Event{Kind: KindRunStopped}.Terminal())
	require.False(t, Event{Kind: KindStageDone}.Terminal())
	require.Equal(t, "completed", Event{Kind: KindStageDone}.Outcome())
	require.Equal(t, "error", Event{Kind: KindRunError}.Outcome())
	require.Equal(t, "stopped", Event{Kind: KindRunStopped}.Outcome())
	require.Error(t, Event{RunID: "r", TS: time.Now(), Kind: KindRunDone, Dur: -1}.Validate())
	require.Error(t, Event{RunID: "r", TS: time.Now(), Kind: "NOPE"}.Validate())
}
