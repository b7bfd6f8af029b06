package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

func runQueue(t *testing.T, size int) *Queue {
	t.Helper()
	q := NewQueue(size, nil)
	go q.Run(context.Background())
	t.Cleanup(func() {
		q.Close()
		<-q.Done()
	})
	return q
}

func TestQueueRunsJobsInOrder(t *testing.T) {
	q := runQueue(t, 16)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := range 10 {
		require.NoError(t, q.Enqueue("job", func(context.Context) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
		}))
	}
	last, err := Submit(context.Background(), q, "last", func(context.Context) int { return 99 })
	require.NoError(t, err)
	assert.Equal(t, 99, last)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestQueueSurvivesPanickingJob(t *testing.T) {
	q := runQueue(t, 4)

	require.NoError(t, q.Enqueue("boom", func(context.Context) { panic("boom") }))
	v, err := Submit(context.Background(), q, "after", func(context.Context) string { return "ok" })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1, nil)

	require.NoError(t, q.Enqueue("first", func(context.Context) {}))
	err := q.Enqueue("second", func(context.Context) {})
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDaemon))
}

func TestQueueCloseDrainsPendingJobs(t *testing.T) {
	q := NewQueue(4, nil)

	ran := 0
	for range 3 {
		require.NoError(t, q.Enqueue("pending", func(context.Context) { ran++ }))
	}
	q.Close()
	q.Run(context.Background())

	assert.Equal(t, 3, ran)
	err := q.Enqueue("late", func(context.Context) {})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryDaemon))
}

func TestSubmitAfterStopFails(t *testing.T) {
	q := NewQueue(1, nil)
	q.Close()
	_, err := Submit(context.Background(), q, "late", func(context.Context) int { return 1 })
	require.Error(t, err)
}

func TestSubmitAbandonsWaitOnContext(t *testing.T) {
	q := runQueue(t, 4)

	release := make(chan struct{})
	require.NoError(t, q.Enqueue("blocker", func(context.Context) { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Submit(ctx, q, "waiter", func(context.Context) int { return 1 })
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}
