package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/progress"
)

// LogSink reports run milestones through zap. Page completions are logged at
// debug level; the worker already logs failures with full context.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("institution", evt.Institution),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("run started", append(fields, zap.String("mode", evt.Mode))...)
		case progress.StagePlanDone:
			s.logger.Info("run planned",
				append(fields, zap.Int("pages", evt.Pages), zap.Duration("dur", evt.Dur))...)
		case progress.StagePageDone:
			s.logger.Debug("page done", append(fields,
				zap.String("partition", evt.Partition),
				zap.Int("page", evt.Page),
				zap.String("outcome", evt.Outcome),
				zap.Int64("inserted", evt.Inserted),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageRunDone:
			s.logger.Info("run finished", append(fields, zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Error("run failed",
				append(fields, zap.Duration("dur", evt.Dur), zap.String("error", evt.Note))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
