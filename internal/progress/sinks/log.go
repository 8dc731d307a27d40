package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/reddit-leadgen/internal/progress"
)

// kindLog is the message and level used for one event kind. Stage starts are
// debug so a normal run logs one line per finished stage.
var kindLog = map[progress.Kind]struct {
	msg   string
	level zapcore.Level
}{
	progress.KindRunStart:   {"run started", zapcore.InfoLevel},
	progress.KindStageStart: {"stage started", zapcore.DebugLevel},
	progress.KindStageDone:  {"stage completed", zapcore.InfoLevel},
	progress.KindStageError: {"stage failed", zapcore.WarnLevel},
	progress.KindRunDone:    {"run completed", zapcore.InfoLevel},
	progress.KindRunError:   {"run failed", zapcore.WarnLevel},
	progress.KindRunStopped: {"run stopped", zapcore.InfoLevel},
}

// LogSink writes one structured line per progress event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink. A nil logger discards output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		entry, ok := kindLog[evt.Kind]
		if !ok {
			entry.msg, entry.level = "workflow progress", zapcore.InfoLevel
		}
		if ce := s.logger.Check(entry.level, entry.msg); ce != nil {
			ce.Write(eventFields(evt)...)
		}
	}
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID),
		zap.String("campaign_id", evt.CampaignID),
		zap.String("kind", string(evt.Kind)),
	}
	if evt.Stage != "" {
		fields = append(fields, zap.String("stage", string(evt.Stage)))
	}
	if evt.Kind == progress.KindStageDone {
		fields = append(fields, zap.Int("count", evt.Count))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("duration", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
