package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		RunID: "00000000-0000-0000-0000-000000000001",
		TS:    time.Unix(0, 0),
		Kind:  KindRunStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals threads found by the search stage.
func ExampleSink() {
	var found int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Kind == KindStageDone && evt.Stage == leadgen.StageSearch {
				found += evt.Count
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		RunID: "00000000-0000-0000-0000-000000000002",
		TS:    time.Unix(0, 0),
		Kind:  KindStageDone,
		Stage: leadgen.StageSearch,
		Count: 12,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("threads found: %d\n", found)
	// Output:
	// threads found: 12
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

func sampleEvent(kind Kind) Event {
	return Event{
		RunID:      "run-sample",
		CampaignID: "campaign-sample",
		TS:         time.Now(),
		Kind:       kind,
		Stage:      leadgen.StageScrape,
	}
}
