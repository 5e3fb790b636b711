package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_EnqueueRunsJobs(t *testing.T) {
	w := NewWorker(2)
	defer w.Shutdown()

	var ran int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		w.Enqueue(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			done <- struct{}{}
			return nil
		})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("job did not run")
		}
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&ran))
}

func TestWorker_AsyncFailureAndPanicAreCounted(t *testing.T) {
	w := NewWorker(1)

	w.EnqueueAsync(func(ctx context.Context) error { return errors.New("boom") })
	w.EnqueueAsync(func(ctx context.Context) error { panic("bad") })

	require.Eventually(t, func() bool {
		return w.GetStats().CompletedJobs == 2
	}, time.Second, 10*time.Millisecond)

	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.FailedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
	w.Shutdown()
}

func TestWorker_ScheduleEveryImmediateRecordsRuns(t *testing.T) {
	w := NewWorker(1)

	var runs int32
	w.ScheduleEveryImmediate("push_retry", 20*time.Millisecond, func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 2 {
			return errors.New("gate down")
		}
		return nil
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 3 }, time.Second, 5*time.Millisecond)
	w.Shutdown()

	stats := w.GetStats()
	require.Len(t, stats.Schedules, 1)
	s := stats.Schedules[0]
	assert.Equal(t, "push_retry", s.Name)
	assert.GreaterOrEqual(t, s.Runs, int64(3))
	assert.Equal(t, int64(1), s.Failures)
	assert.NotNil(t, s.LastRunAt)
}

func TestWorker_NonPositiveIntervalIsDisabled(t *testing.T) {
	w := NewWorker(1)
	defer w.Shutdown()

	w.ScheduleEvery("sweep", 0, func(ctx context.Context) error { return nil })
	assert.Empty(t, w.GetStats().Schedules)
}

func TestWorker_ShutdownCancelsContext(t *testing.T) {
	w := NewWorker(1)
	w.Shutdown()
	assert.Error(t, w.Context().Err())
}
