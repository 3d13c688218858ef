package taskpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func TestPoolNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	const size = 3
	p := New(size)
	var running, peak atomic.Int32
	for range 20 {
		_, err := p.Submit(context.Background(), func(context.Context) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
		require.NoError(t, err)
		require.LessOrEqual(t, p.InFlight(), size)
	}
	require.NoError(t, p.Join())
	require.LessOrEqual(t, peak.Load(), int32(size))
	require.Equal(t, 0, p.InFlight())
}

func TestJoinLeavesAllTasksTerminal(t *testing.T) {
	t.Parallel()

	p := New(4)
	var tasks []*Task
	for i := range 10 {
		task, err := p.Submit(context.Background(), func(context.Context) error {
			time.Sleep(time.Duration(i) * time.Millisecond)
			if i%3 == 0 {
				return errors.New("page failed")
			}
			return nil
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.NoError(t, p.Join())
	for _, task := range tasks {
		select {
		case <-task.Done():
		default:
			t.Fatal("task still running after Join")
		}
	}
	require.Error(t, tasks[0].Err())
	require.NoError(t, tasks[1].Err())
}

func TestJoinPropagatesFirstFailureOnce(t *testing.T) {
	t.Parallel()

	p := New(1, WithPropagateErrors())
	boom := errors.New("boom")
	_, err := p.Submit(context.Background(), func(context.Context) error { return boom })
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), func(context.Context) error { return errors.New("later") })
	require.NoError(t, err)

	require.ErrorIs(t, p.Join(), boom)
	require.NoError(t, p.Join())
}

func TestSubmitAfterCloseFails(t *testing.T) {
	t.Parallel()

	p := New(2)
	require.NoError(t, p.Close())
	_, err := p.Submit(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.Join(), ErrClosed)
	require.NoError(t, p.Close())
}

func TestCloseCancelsRunningTasks(t *testing.T) {
	t.Parallel()

	p := New(2, WithPropagateErrors())
	started := make(chan struct{}, 2)
	var tasks []*Task
	for range 2 {
		task, err := p.Submit(context.Background(), func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	<-started
	<-started

	require.NoError(t, p.Close())
	require.Equal(t, 0, p.InFlight())
	for _, task := range tasks {
		require.ErrorIs(t, task.Err(), context.Canceled)
	}
}

func TestSubmitterCancellationDoesNotReachTask(t *testing.T) {
	t.Parallel()

	p := New(1)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "run-1"))
	release := make(chan struct{})
	var sawValue atomic.Value
	task, err := p.Submit(ctx, func(taskCtx context.Context) error {
		sawValue.Store(taskCtx.Value(ctxKey{}))
		<-release
		return taskCtx.Err()
	})
	require.NoError(t, err)
	cancel()
	close(release)

	require.NoError(t, p.Join())
	require.NoError(t, task.Err())
	require.Equal(t, "run-1", sawValue.Load())
}

func TestSubmitWaitAbortsOnContextCancel(t *testing.T) {
	t.Parallel()

	p := New(1)
	release := make(chan struct{})
	_, err := p.Submit(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Join())
}

func TestPanicBecomesTaskError(t *testing.T) {
	t.Parallel()

	p := New(1, WithPropagateErrors())
	task, err := p.Submit(context.Background(), func(context.Context) error {
		panic("bad page")
	})
	require.NoError(t, err)
	<-task.Done()
	require.ErrorContains(t, task.Err(), "bad page")
	require.ErrorContains(t, p.Join(), "task panic")

	// The slot must have been released.
	task, err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	<-task.Done()
}

func TestProgressCalledOncePerTask(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	p := New(3, WithProgress(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	for i := range 7 {
		_, err := p.Submit(context.Background(), func(context.Context) error {
			if i == 2 {
				panic("x")
			}
			if i == 4 {
				return errors.New("y")
			}
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, p.Join())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 7, calls)
}

func TestNewClampsSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, New(0).Size())
	require.Equal(t, 5, New(5).Size())
}
