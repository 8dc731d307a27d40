package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/reddit-leadgen/internal/progress"
)

// PrometheusSink exports workflow progress metrics via Prometheus. It owns the
// collectors for runs started/finished/running and per-stage outcomes.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsRunning  prometheus.Gauge
	runDuration  *prometheus.HistogramVec

	stageTotal    *prometheus.CounterVec
	stageItems    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadgen_workflow_runs_started_total",
			Help: "Total workflow runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgen_workflow_runs_total",
			Help: "Total workflow runs finished partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadgen_workflow_runs_running",
			Help: "Current number of running workflow runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadgen_workflow_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgen_workflow_stages_total",
			Help: "Stage completions partitioned by stage and result.",
		}, []string{"stage", "result"}),
		stageItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadgen_workflow_stage_items_total",
			Help: "Items produced per stage.",
		}, []string{"stage"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadgen_workflow_stage_duration_seconds",
			Help:    "Stage duration partitioned by stage and result.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage", "result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsRunning,
		s.runDuration,
		s.stageTotal,
		s.stageItems,
		s.stageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.KindRunDone, progress.KindRunError, progress.KindRunStopped:
		result := evt.Outcome()
		s.runsFinished.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.KindStageDone, progress.KindStageError:
		s.handleStageEvent(evt)
	}
}

func (s *PrometheusSink) handleStageEvent(evt progress.Event) {
	stage := string(evt.Stage)
	result := evt.Outcome()
	s.stageTotal.WithLabelValues(stage, result).Inc()
	if evt.Count > 0 {
		s.stageItems.WithLabelValues(stage).Add(float64(evt.Count))
	}
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(stage, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
