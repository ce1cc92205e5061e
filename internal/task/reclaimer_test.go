package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/store"
)

func TestReclaimerResetsAbandonedTasks(t *testing.T) {
	t.Parallel()

	taskStore := store.NewMemoryTaskStore()
	ctx := context.Background()
	ids := createPendingTasks(t, taskStore, 1)

	claimed, err := taskStore.StartProcessing(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, claimed)

	reclaimer := NewReclaimer(taskStore, ReclaimerConfig{
		Interval:  20 * time.Millisecond,
		StuckAge:  time.Millisecond,
		Retention: time.Hour,
	}, testLogger())
	reclaimer.Start()
	defer reclaimer.Stop()

	require.Eventually(t, func() bool {
		task, err := taskStore.GetByID(ctx, ids[0])
		return err == nil && task.Status == domain.TaskStatusPending
	}, 2*time.Second, 10*time.Millisecond)

	task, err := taskStore.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 0, task.Progress)
	assert.Nil(t, task.StartedAt)
}

func TestReclaimerLeavesLiveTasks(t *testing.T) {
	t.Parallel()

	taskStore := store.NewMemoryTaskStore()
	ctx := context.Background()
	ids := createPendingTasks(t, taskStore, 1)

	claimed, err := taskStore.StartProcessing(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, claimed)

	reclaimer := NewReclaimer(taskStore, ReclaimerConfig{
		Interval:  10 * time.Millisecond,
		StuckAge:  time.Hour,
		Retention: time.Hour,
	}, testLogger())
	reclaimer.Start()
	defer reclaimer.Stop()

	// Several sweeps pass; a recently claimed task stays claimed.
	time.Sleep(60 * time.Millisecond)

	task, err := taskStore.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
}

func TestReclaimerDeletesExpiredTerminalTasks(t *testing.T) {
	t.Parallel()

	taskStore := store.NewMemoryTaskStore()
	ctx := context.Background()
	ids := createPendingTasks(t, taskStore, 1)

	claimed, err := taskStore.StartProcessing(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, taskStore.Complete(ctx, ids[0], nil))

	reclaimer := NewReclaimer(taskStore, ReclaimerConfig{
		Interval:        time.Hour,
		StuckAge:        time.Hour,
		CleanupInterval: 20 * time.Millisecond,
		Retention:       time.Millisecond,
	}, testLogger())
	reclaimer.Start()
	defer reclaimer.Stop()

	require.Eventually(t, func() bool {
		_, err := taskStore.GetByID(ctx, ids[0])
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
