package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
	"github.com/JakeFAU/reddit-leadgen/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "run-1", TS: now, Kind: progress.KindRunStart},
		{
			RunID: "run-1",
			TS:    now.Add(10 * time.Second),
			Kind:  progress.KindStageDone,
			Stage: leadgen.StageSearch,
			Count: 25,
			Dur:   2 * time.Second,
		},
		{RunID: "run-1", TS: now.Add(20 * time.Second), Kind: progress.KindStageError, Stage: leadgen.StageScore},
		{RunID: "run-1", TS: now.Add(21 * time.Second), Kind: progress.KindRunError, Dur: 21 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.InDelta(t, 25.0, testutil.ToFloat64(sink.stageItems.WithLabelValues("search")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.stageTotal.WithLabelValues("score", "error")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageDuration, "leadgen_workflow_stage_duration_seconds"))
}

// TestPrometheusSinkDoubleRegister surfaces registry conflicts.
func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "run-1", Kind: progress.KindStageStart, Stage: leadgen.StageFetch},
		{RunID: "run-1", Kind: progress.KindStageDone, Stage: leadgen.StageFetch, Count: 3},
		{RunID: "run-1", Kind: progress.KindRunError, Note: "boom"},
	}))
	// Stage starts are debug and filtered out at info.
	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	require.Equal(t, "stage completed", entries[0].Message)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.EqualValues(t, 3, entries[0].ContextMap()["count"])
	require.Equal(t, "run failed", entries[1].Message)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
	require.NoError(t, sink.Close(context.Background()))
}
