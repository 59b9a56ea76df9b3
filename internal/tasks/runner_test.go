package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"inkpost/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsAndDrains(t *testing.T) {
	r := NewRunner(models.TasksConfig{Workers: 3, QueueSize: 100})

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.True(t, r.Enqueue("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, int32(50), ran.Load())
	assert.Equal(t, uint64(50), r.Stats().Completed)
}

func TestRunner_FailuresAndPanicsAreCounted(t *testing.T) {
	r := NewRunner(models.TasksConfig{Workers: 1, QueueSize: 10})

	r.Enqueue("fails", func(context.Context) error { return errors.New("boom") })
	r.Enqueue("panics", func(context.Context) error { panic("oops") })
	r.Enqueue("ok", func(context.Context) error { return nil })

	require.NoError(t, r.Close(context.Background()))
	s := r.Stats()
	assert.Equal(t, uint64(2), s.Failed)
	assert.Equal(t, uint64(1), s.Completed)
}

func TestRunner_TaskTimeout(t *testing.T) {
	r := NewRunner(models.TasksConfig{Workers: 1, QueueSize: 1, Timeout: 20 * time.Millisecond})

	var got atomic.Value
	r.Enqueue("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	})

	require.NoError(t, r.Close(context.Background()))
	assert.ErrorIs(t, got.Load().(error), context.DeadlineExceeded)
	assert.Equal(t, uint64(1), r.Stats().Failed)
}

func TestRunner_DropsWhenFull(t *testing.T) {
	r := NewRunner(models.TasksConfig{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, r.Enqueue("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, r.Enqueue("queued", func(context.Context) error { return nil }))
	assert.False(t, r.Enqueue("dropped", func(context.Context) error { return nil }))
	assert.Equal(t, uint64(1), r.Stats().Dropped)

	close(release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRunner_EnqueueAfterClose(t *testing.T) {
	r := NewRunner(models.TasksConfig{})
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	assert.False(t, r.Enqueue("late", func(context.Context) error { return nil }))
}

func TestRunner_CloseHonoursContext(t *testing.T) {
	r := NewRunner(models.TasksConfig{Workers: 1, QueueSize: 1, Timeout: time.Minute})

	release := make(chan struct{})
	defer close(release)
	r.Enqueue("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
}
