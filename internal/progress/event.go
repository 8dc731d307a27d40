package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported progress kinds.
const (
	KindRunStart   Kind = "RUN_START"
	KindStageStart Kind = "STAGE_START"
	KindStageDone  Kind = "STAGE_DONE"
	KindStageError Kind = "STAGE_ERROR"
	KindRunDone    Kind = "RUN_DONE"
	KindRunError   Kind = "RUN_ERROR"
	KindRunStopped Kind = "RUN_STOPPED"
)

// Event captures a single milestone of a workflow run.
type Event struct {
	// RunID identifies the workflow run.
	RunID string
	// CampaignID is the campaign the run belongs to.
	CampaignID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle milestone occurred.
	Kind Kind
	// Stage scopes stage events to one workflow stage.
	Stage leadgen.StageName
	// Count is the number of items a stage produced.
	Count int
	// Dur captures stage or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError, KindRunStopped:
	case KindStageStart, KindStageDone, KindStageError:
		if e.Stage == "" {
			return fmt.Errorf("%s requires stage", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindRunDone, KindRunError, KindRunStopped:
		return true
	default:
		return false
	}
}

// Outcome maps terminal and stage-completion kinds to a metric label.
func (e Event) Outcome() string {
	switch e.Kind {
	case KindRunDone, KindStageDone:
		return "completed"
	case KindRunError, KindStageError:
		return "error"
	case KindRunStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
