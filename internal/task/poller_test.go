package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/store"
)

// processRecorder collects the task IDs a poller sweep hands to process.
type processRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
	fn  func(ctx context.Context, id uuid.UUID) error
}

func (r *processRecorder) process(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, id)
	}
	return nil
}

func (r *processRecorder) seen() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

func createPendingTasks(t *testing.T, s *store.MemoryTaskStore, n int) []uuid.UUID {
	t.Helper()

	ids := make([]uuid.UUID, n)
	for i := range ids {
		task, err := domain.NewTask(uuid.New(), domain.TaskTypeSingle,
			json.RawMessage(`{"prompt":"x"}`), nil)
		require.NoError(t, err)
		require.NoError(t, s.Create(context.Background(), task))
		ids[i] = task.ID
	}
	return ids
}

func TestPollerDeliversPendingTasks(t *testing.T) {
	t.Parallel()

	taskStore := store.NewMemoryTaskStore()
	ids := createPendingTasks(t, taskStore, 3)

	recorder := &processRecorder{}
	poller := NewPoller(taskStore, recorder.process, PollerConfig{
		Interval:    20 * time.Millisecond,
		BatchSize:   10,
		Concurrency: 2,
	}, testLogger())

	poller.Start()
	defer poller.Stop()

	// Startup jitter delays each unit by up to BatchStartJitter.
	require.Eventually(t, func() bool {
		return len(recorder.seen()) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	assert.ElementsMatch(t, ids, recorder.seen()[:3])
}

func TestPollerContinuesPastProcessError(t *testing.T) {
	t.Parallel()

	taskStore := store.NewMemoryTaskStore()
	ids := createPendingTasks(t, taskStore, 2)

	recorder := &processRecorder{
		fn: func(ctx context.Context, id uuid.UUID) error {
			if id == ids[0] {
				return errors.New("store unavailable")
			}
			return nil
		},
	}
	poller := NewPoller(taskStore, recorder.process, PollerConfig{
		Interval:    20 * time.Millisecond,
		BatchSize:   10,
		Concurrency: 1,
	}, testLogger())

	poller.Start()
	defer poller.Stop()

	// A failing unit must not keep the sweep from running its siblings.
	require.Eventually(t, func() bool {
		seen := recorder.seen()
		var sawOther bool
		for _, id := range seen {
			if id == ids[1] {
				sawOther = true
			}
		}
		return sawOther
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPollerStopTerminatesLoop(t *testing.T) {
	t.Parallel()

	poller := NewPoller(store.NewMemoryTaskStore(), func(ctx context.Context, id uuid.UUID) error {
		return nil
	}, PollerConfig{
		Interval:    10 * time.Millisecond,
		BatchSize:   5,
		Concurrency: 1,
	}, testLogger())

	poller.Start()

	done := make(chan struct{})
	go func() {
		poller.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
