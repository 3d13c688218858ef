package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(pageEvent(1))
	hub.Emit(pageEvent(2))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesPartialBatchAfterWait(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 20 * time.Millisecond}, sink)
	t.Cleanup(func() { require.NoError(t, hub.Close(context.Background())) })

	hub.Emit(pageEvent(1))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Emit(pageEvent(2))
	require.Eventually(t, func() bool { return len(sink.Batches()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 16, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	for page := 1; page <= 3; page++ {
		hub.Emit(pageEvent(page))
	}

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	batches := sink.Batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 3)
	require.True(t, sink.closed)

	hub.Emit(pageEvent(4))
	require.Len(t, sink.Batches(), 1, "events after close are ignored")
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(pageEvent(1))
	hub.Emit(pageEvent(2))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped(), "first drop is reported and reset")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	evt := pageEvent(1)
	evt.Outcome = ""
	hub.Emit(evt)
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(pageEvent(1))
	require.NoError(t, hub.Close(context.Background()))
	Discard.Emit(pageEvent(1))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := pageEvent(3)
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
		want   string
	}{
		{name: "run id", mutate: func(e *Event) { e.RunID = [16]byte{} }, want: "run id"},
		{name: "timestamp", mutate: func(e *Event) { e.TS = time.Time{} }, want: "timestamp"},
		{name: "institution", mutate: func(e *Event) { e.Institution = "" }, want: "institution"},
		{name: "page", mutate: func(e *Event) { e.Page = 0 }, want: "page number"},
		{name: "stage", mutate: func(e *Event) { e.Stage = "JOB_START" }, want: "unknown stage"},
		{name: "duration", mutate: func(e *Event) { e.Dur = -time.Second }, want: "duration"},
		{name: "planned pages", mutate: func(e *Event) { e.Stage = StagePlanDone; e.Pages = -1 }, want: "planned"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := base
			tt.mutate(&evt)
			require.ErrorContains(t, evt.Validate(), tt.want)
		})
	}
}

func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{RunID: UUIDToBytes(id)}
	require.Equal(t, id, evt.RunUUID())
	require.True(t, StageRunError.Terminal())
	require.False(t, StagePageDone.Terminal())
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func pageEvent(page int) Event {
	return Event{
		RunID:       UUIDToBytes(uuid.New()),
		TS:          time.Now(),
		Stage:       StagePageDone,
		Institution: "ecnu",
		Partition:   "docCode=1",
		Page:        page,
		Outcome:     "persisted",
		Inserted:    50,
	}
}
