package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/domain"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	payload := json.RawMessage(`{"prompt":"a red chair"}`)

	t.Run("creates pending task with defaults", func(t *testing.T) {
		t.Parallel()

		task, err := domain.NewTask(ownerID, domain.TaskTypeSingle, payload, nil)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, ownerID, task.OwnerID)
		assert.Equal(t, domain.TaskStatusPending, task.Status)
		assert.Equal(t, 0, task.Progress)
		assert.Nil(t, task.BatchID)
		assert.Nil(t, task.StartedAt)
		assert.Nil(t, task.CompletedAt)
		assert.False(t, task.CreatedAt.IsZero())
	})

	t.Run("carries batch ID when given", func(t *testing.T) {
		t.Parallel()

		batchID := uuid.New()
		task, err := domain.NewTask(ownerID, domain.TaskTypeProductShot, payload, &batchID)
		require.NoError(t, err)
		require.NotNil(t, task.BatchID)
		assert.Equal(t, batchID, *task.BatchID)
	})

	t.Run("rejects empty owner", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTask(uuid.Nil, domain.TaskTypeSingle, payload, nil)
		assert.ErrorIs(t, err, domain.ErrEmptyTaskOwnerID)
	})

	t.Run("rejects empty payload", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTask(ownerID, domain.TaskTypeSingle, nil, nil)
		assert.ErrorIs(t, err, domain.ErrEmptyTaskPayload)
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		t.Parallel()

		_, err := domain.NewTask(ownerID, domain.TaskType("bogus"), payload, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTaskType)
	})
}

func TestTaskTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from    domain.TaskStatus
		to      domain.TaskStatus
		allowed bool
	}{
		{domain.TaskStatusPending, domain.TaskStatusProcessing, true},
		{domain.TaskStatusPending, domain.TaskStatusCancelled, true},
		{domain.TaskStatusPending, domain.TaskStatusCompleted, false},
		{domain.TaskStatusProcessing, domain.TaskStatusCompleted, true},
		{domain.TaskStatusProcessing, domain.TaskStatusFailed, true},
		{domain.TaskStatusProcessing, domain.TaskStatusCancelled, true},
		// Reclaim edge.
		{domain.TaskStatusProcessing, domain.TaskStatusPending, true},
		{domain.TaskStatusCompleted, domain.TaskStatusProcessing, false},
		{domain.TaskStatusFailed, domain.TaskStatusPending, false},
		{domain.TaskStatusCancelled, domain.TaskStatusProcessing, false},
	}

	for _, tc := range cases {
		task := &domain.Task{Status: tc.from}
		assert.Equal(t, tc.allowed, task.CanTransitionTo(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTaskIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := []domain.TaskStatus{
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	}
	for _, status := range terminal {
		assert.True(t, (&domain.Task{Status: status}).IsTerminal(), string(status))
	}

	assert.False(t, (&domain.Task{Status: domain.TaskStatusPending}).IsTerminal())
	assert.False(t, (&domain.Task{Status: domain.TaskStatusProcessing}).IsTerminal())
}

func TestBatchProgress(t *testing.T) {
	t.Parallel()

	progress := &domain.BatchProgress{BatchID: uuid.New()}
	statuses := []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusProcessing,
		domain.TaskStatusCompleted,
		domain.TaskStatusCompleted,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	}
	for _, s := range statuses {
		progress.Add(s)
	}

	assert.Equal(t, 6, progress.Total)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 1, progress.Processing)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 1, progress.Cancelled)

	// Counts always partition the total.
	sum := progress.Pending + progress.Processing + progress.Completed +
		progress.Failed + progress.Cancelled
	assert.Equal(t, progress.Total, sum)

	assert.False(t, progress.Done())

	done := &domain.BatchProgress{}
	done.Add(domain.TaskStatusCompleted)
	done.Add(domain.TaskStatusFailed)
	done.Add(domain.TaskStatusCancelled)
	assert.True(t, done.Done())
}
