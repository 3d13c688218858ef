package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/store"
)

// StoreSink persists run progress through a store.RunRepository. Page events
// are collapsed per run so each batch costs one write per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Pending page deltas of a run are
// written before its completion so the final row is consistent.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[uuid.UUID]*store.PageDelta)
	var order []uuid.UUID

	for _, evt := range batch {
		id := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, id, evt.Institution, evt.Mode, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePlanDone:
			if err := s.repo.SetPagesPlanned(ctx, id, evt.Pages); err != nil {
				return fmt.Errorf("set planned pages: %w", err)
			}
		case progress.StagePageDone:
			delta, ok := deltas[id]
			if !ok {
				delta = &store.PageDelta{}
				deltas[id] = delta
				order = append(order, id)
			}
			delta.Done++
			if evt.Outcome == metrics.PageFailed {
				delta.Failed++
			}
			delta.Inserted += evt.Inserted
			if evt.TS.After(delta.At) {
				delta.At = evt.TS
			}
		case progress.StageRunDone, progress.StageRunError:
			if err := s.flushDelta(ctx, id, deltas[id]); err != nil {
				return err
			}
			delete(deltas, id)
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.CompleteRun(ctx, id, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for _, id := range order {
		if err := s.flushDelta(ctx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) flushDelta(ctx context.Context, id uuid.UUID, delta *store.PageDelta) error {
	if delta == nil || delta.Empty() {
		return nil
	}
	if err := s.repo.AddPages(ctx, id, *delta); err != nil {
		return fmt.Errorf("add pages: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
