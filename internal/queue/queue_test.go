package queue_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ksred/arbitrage-api/internal/database"
	"github.com/ksred/arbitrage-api/internal/queue"
	"github.com/ksred/arbitrage-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "queue_test.db"))
	require.NoError(t, err)
	return db
}

func newTestQueue(t *testing.T, opts ...queue.Option) *queue.Service {
	t.Helper()
	svc := queue.NewService(openTestDB(t), opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestEnqueueTakeAck(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(1, types.InfoList{"submit"})
	require.NoError(t, err)
	require.NotEmpty(t, task.TaskID)
	assert.Equal(t, queue.StateReady, task.State)

	taken, err := q.Take(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, task.TaskID, taken.TaskID)
	assert.Equal(t, queue.StateTaken, taken.State)
	assert.Equal(t, uint(1), taken.OrderID)

	require.NoError(t, q.Ack(taken.TaskID))

	// Queue is now empty: a short take comes back with nothing.
	empty, err := q.Take(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestTakeExclusivity(t *testing.T) {
	q := newTestQueue(t)

	const tasks = 8
	for i := 0; i < tasks; i++ {
		_, err := q.Enqueue(uint(i+1), nil)
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < tasks*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := q.Take(context.Background(), 2*time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			if task == nil {
				return
			}
			mu.Lock()
			seen[task.TaskID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, tasks)
	for taskID, count := range seen {
		assert.Equalf(t, 1, count, "task %s delivered to multiple workers", taskID)
	}
}

func TestAckIdempotent(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)

	require.NoError(t, q.Ack(task.TaskID))
	// Second ack is a no-op, not an error.
	require.NoError(t, q.Ack(task.TaskID))
}

func TestAckNotHeld(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	// Never taken: the task is not held by anybody.
	err = q.Ack(task.TaskID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	err = q.Ack("no-such-task")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestAckAfterReleaseReturnsNotFound(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)

	require.NoError(t, q.Release(task.TaskID))

	// The worker no longer holds the task; out-of-order ack must not
	// corrupt the released state.
	err = q.Ack(task.TaskID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	retaken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, retaken)
	assert.Equal(t, task.TaskID, retaken.TaskID)
}

func TestReleaseAfterAckReturnsNotFound(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)

	require.NoError(t, q.Ack(task.TaskID))

	err = q.Release(task.TaskID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReleaseRedelivers(t *testing.T) {
	q := newTestQueue(t)

	task, err := q.Enqueue(7, types.InfoList{"submit", 42.0})
	require.NoError(t, err)

	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)

	require.NoError(t, q.Release(task.TaskID))

	retaken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, retaken)
	assert.Equal(t, task.TaskID, retaken.TaskID)
	assert.Equal(t, 1, retaken.Attempts)
}

func TestReleaseBuriesAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t, queue.WithMaxAttempts(2))

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		taken, err := q.Take(context.Background(), time.Second)
		require.NoError(t, err)
		require.NotNil(t, taken)
		require.NoError(t, q.Release(task.TaskID))
	}

	// Attempt budget exhausted: the task is buried and excluded from takes.
	empty, err := q.Take(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Buried)
}

func TestKickRequeuesBuriedTask(t *testing.T) {
	q := newTestQueue(t, queue.WithMaxAttempts(1))

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)
	require.NoError(t, q.Release(task.TaskID))

	// Buried now; kicking it makes it deliverable again.
	require.NoError(t, q.Kick(task.TaskID))

	retaken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, retaken)
	assert.Equal(t, task.TaskID, retaken.TaskID)

	err = q.Kick(task.TaskID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLeaseExpiryRedelivers(t *testing.T) {
	q := newTestQueue(t, queue.WithLease(200*time.Millisecond))

	task, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	// First worker takes the task and crashes without ack or release.
	taken, err := q.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)

	// While the lease holds, nobody else can see the task.
	during, err := q.Take(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, during)

	// After lease expiry the task becomes deliverable again.
	retaken, err := q.Take(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, retaken)
	assert.Equal(t, task.TaskID, retaken.TaskID)
	assert.Equal(t, taken.Attempts+1, retaken.Attempts)
}

func TestTakeHonorsContextCancellation(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := q.Take(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTakeWakesOnEnqueue(t *testing.T) {
	q := newTestQueue(t)

	done := make(chan *queue.Task, 1)
	go func() {
		task, err := q.Take(context.Background(), 5*time.Second)
		if err != nil {
			t.Error(err)
		}
		done <- task
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := q.Enqueue(1, nil)
	require.NoError(t, err)

	select {
	case task := <-done:
		require.NotNil(t, task)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked take did not wake on enqueue")
	}
}

func TestTasksSurviveServiceRestart(t *testing.T) {
	db := openTestDB(t)

	q1 := queue.NewService(db)
	task, err := q1.Enqueue(1, types.InfoList{"submit"})
	require.NoError(t, err)
	q1.Close()

	// A fresh service over the same storage still sees the task.
	q2 := queue.NewService(db)
	defer q2.Close()

	taken, err := q2.Take(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, taken)
	assert.Equal(t, task.TaskID, taken.TaskID)
	assert.Equal(t, types.InfoList{"submit"}, taken.Payload)
}
