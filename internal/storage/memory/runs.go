package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/catalog-harvester/internal/store"
)

// RunStore keeps run progress in memory for the status API.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*store.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]*store.Run)}
}

// StartRun inserts the run unless it is already known.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, institution, mode string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.runs[id] = &store.Run{
		ID:          id,
		Institution: institution,
		Mode:        mode,
		Status:      store.RunRunning,
		StartedAt:   startedAt,
		UpdatedAt:   startedAt,
	}
	return nil
}

// SetPagesPlanned records the planned page count.
func (s *RunStore) SetPagesPlanned(_ context.Context, id uuid.UUID, pages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.PagesPlanned = pages
	return nil
}

// AddPages applies a page delta.
func (s *RunStore) AddPages(_ context.Context, id uuid.UUID, delta store.PageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.PagesDone += delta.Done
	run.PagesFailed += delta.Failed
	run.RecordsInserted += delta.Inserted
	if delta.At.After(run.UpdatedAt) {
		run.UpdatedAt = delta.At
	}
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.FinishedAt = &finishedAt
	run.ErrorMessage = errMsg
	run.UpdatedAt = finishedAt
	return nil
}

// GetRun returns a copy of the run.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return *run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, *run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
