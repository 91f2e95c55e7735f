package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torusai/agentdata/pkg/models"
	"github.com/torusai/agentdata/pkg/scheduler"
)

func TestNew_invalid_schedule(t *testing.T) {
	_, err := scheduler.New(nil, scheduler.Config{Schedule: "every tuesday"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every tuesday")
}

func TestNextRunTime(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 2, 0, 0, time.UTC)

	next, err := scheduler.NextRunTime("*/5 * * * *", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), next)

	next, err = scheduler.NextRunTime("@every 5m", base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(5*time.Minute), next)

	_, err = scheduler.NextRunTime("not a schedule", base)
	require.Error(t, err)
}

func TestRunNow_bounds_run_with_timeout(t *testing.T) {
	var deadline time.Time
	run := func(ctx context.Context) (models.CycleResult, error) {
		d, ok := ctx.Deadline()
		require.True(t, ok)
		deadline = d
		return models.CycleResult{Processed: 3, Synced: 3}, nil
	}
	s, err := scheduler.New(run, scheduler.Config{RunTimeout: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	result, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Synced)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	assert.EqualValues(t, 1, s.Runs())
}

func TestRunNow_rejects_overlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context) (models.CycleResult, error) {
		close(started)
		<-release
		return models.CycleResult{}, nil
	}
	s, err := scheduler.New(run, scheduler.Config{}, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background())
		done <- err
	}()
	<-started

	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, scheduler.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestRunNow_propagates_error(t *testing.T) {
	run := func(ctx context.Context) (models.CycleResult, error) {
		return models.CycleResult{}, errors.New("database is down")
	}
	s, err := scheduler.New(run, scheduler.Config{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = s.RunNow(context.Background())
	require.EqualError(t, err, "database is down")
}

func TestScheduler_fires_on_schedule(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context) (models.CycleResult, error) {
		calls.Add(1)
		return models.CycleResult{Processed: 1, Synced: 1}, nil
	}

	s, err := scheduler.New(run, scheduler.Config{Schedule: "@every 1s"}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start(context.Background())
	assert.False(t, s.Next().IsZero())

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	s.Stop()
}

func TestScheduler_run_on_start(t *testing.T) {
	var calls atomic.Int32
	run := func(ctx context.Context) (models.CycleResult, error) {
		calls.Add(1)
		return models.CycleResult{}, nil
	}
	s, err := scheduler.New(run, scheduler.Config{Schedule: "@every 1h", RunOnStart: true}, zerolog.Nop())
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	assert.EqualValues(t, 1, s.Runs())
}

func TestScheduler_stop_cancels_running_cycle(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	run := func(ctx context.Context) (models.CycleResult, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return models.CycleResult{}, ctx.Err()
	}
	s, err := scheduler.New(run, scheduler.Config{Schedule: "@every 1h", RunOnStart: true}, zerolog.Nop())
	require.NoError(t, err)

	s.Start(context.Background())
	<-started
	s.Stop()
	assert.True(t, cancelled.Load())
}
