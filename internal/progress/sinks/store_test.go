package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/progress"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
	"github.com/JakeFAU/catalog-harvester/internal/store"
)

func TestStoreSinkCollapsesPagesBeforeCompletion(t *testing.T) {
	t.Parallel()

	repo := &countingRepo{RunStore: memory.NewRunStore()}
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Institution: "ecnu", Mode: "partitioned"},
		{RunID: runID, TS: now, Stage: progress.StagePlanDone, Institution: "ecnu", Pages: 3},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StagePageDone, Institution: "ecnu",
			Page: 1, Outcome: metrics.PagePersisted, Inserted: 50},
		{RunID: runID, TS: now.Add(2 * time.Second), Stage: progress.StagePageDone, Institution: "ecnu",
			Page: 2, Outcome: metrics.PagePersisted, Inserted: 20},
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StagePageDone, Institution: "ecnu",
			Page: 3, Outcome: metrics.PageFailed},
		{RunID: runID, TS: now.Add(4 * time.Second), Stage: progress.StageRunError, Institution: "ecnu",
			Note: "planning interrupted"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1, repo.addCalls)
	run, err := repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.Equal(t, 3, run.PagesPlanned)
	require.EqualValues(t, 3, run.PagesDone)
	require.EqualValues(t, 1, run.PagesFailed)
	require.EqualValues(t, 70, run.RecordsInserted)
	require.Equal(t, "planning interrupted", *run.ErrorMessage)
}

func TestStoreSinkFlushesOpenRunsAtBatchEnd(t *testing.T) {
	t.Parallel()

	repo := &countingRepo{RunStore: memory.NewRunStore()}
	sink := NewStoreSink(repo, nil)
	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Now().UTC()
	ctx := context.Background()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Institution: "ecnu"},
	}))
	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Institution: "ecnu", Page: 1, Outcome: metrics.PageEmpty},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Institution: "ecnu", Page: 2, Outcome: metrics.PageEmpty},
	}))

	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunRunning, run.Status)
	require.EqualValues(t, 2, run.PagesDone)
}

func TestStoreSinkSurfacesRepositoryErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(failingRepo{}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunStart, Institution: "ecnu"},
	})
	require.ErrorContains(t, err, "start run")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

type countingRepo struct {
	*memory.RunStore
	addCalls int
}

func (r *countingRepo) AddPages(ctx context.Context, id uuid.UUID, delta store.PageDelta) error {
	r.addCalls++
	return r.RunStore.AddPages(ctx, id, delta)
}

type failingRepo struct{ store.RunRepository }

func (failingRepo) StartRun(context.Context, uuid.UUID, string, string, time.Time) error {
	return errors.New("database unavailable")
}
