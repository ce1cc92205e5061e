package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgelight/imageforge/internal/api"
	apiMiddleware "github.com/forgelight/imageforge/internal/api/middleware"
	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/events"
	"github.com/forgelight/imageforge/internal/ratelimit"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/forgelight/imageforge/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type enqueueRecorder struct {
	mu    sync.Mutex
	tasks []*domain.Task
}

func (r *enqueueRecorder) enqueue(_ context.Context, t *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *enqueueRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

type testEnv struct {
	store    *store.MemoryTaskStore
	enqueued *enqueueRecorder
	router   http.Handler
}

func newTestEnv(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	return newTestEnvWithStatus(t, limiter, nil)
}

func newTestEnvWithStatus(t *testing.T, limiter *ratelimit.Limiter, status api.StatusReader) *testEnv {
	t.Helper()

	taskStore := store.NewMemoryTaskStore()
	recorder := &enqueueRecorder{}
	coordinator := task.NewCoordinator(taskStore, testLogger())
	handler := api.NewTaskHandler(taskStore, coordinator, recorder.enqueue, limiter, status, testLogger())

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.OwnerMiddleware)
			r.Post("/tasks", handler.CreateTask)
			r.Get("/tasks", handler.ListActiveTasks)
			r.Get("/tasks/{id}", handler.GetTask)
			r.Get("/tasks/{id}/status", handler.GetTaskStatus)
			r.Delete("/tasks/{id}", handler.CancelTask)
			r.Get("/batches/{id}", handler.GetBatchStatus)
		})
		r.Get("/queue/stats", handler.GetQueueStats)
	})

	return &testEnv{store: taskStore, enqueued: recorder, router: r}
}

func doJSON(t *testing.T, router http.Handler, method, path string, ownerID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	if ownerID != "" {
		req.Header.Set(apiMiddleware.OwnerIDHeader, ownerID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskRequiresOwner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", "",
		api.CreateTaskRequest{Type: "single", Prompt: "a chair"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, env.router, http.MethodPost, "/api/tasks", "not-a-uuid",
		api.CreateTaskRequest{Type: "single", Prompt: "a chair"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSingleTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()

	rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID.String(),
		api.CreateTaskRequest{Type: "single", Prompt: "a red chair"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Task)
	assert.Equal(t, "pending", resp.Task.Status)
	assert.Equal(t, ownerID.String(), resp.Task.OwnerID)

	assert.Equal(t, 1, env.enqueued.count())

	stored, err := env.store.GetByID(context.Background(), uuid.MustParse(resp.Task.ID))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New().String()

	t.Run("unknown type", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
			api.CreateTaskRequest{Type: "mystery", Prompt: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing prompt and template", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
			api.CreateTaskRequest{Type: "single"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("batch without variants", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
			api.CreateTaskRequest{Type: "batch", Prompt: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("product shot without angles", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
			api.CreateTaskRequest{Type: "product-shot", Prompt: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateBatchTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()

	rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID.String(),
		api.CreateTaskRequest{Type: "batch", Prompt: "a mug", Variants: 4, Concurrency: 9})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Task)
	assert.Equal(t, "batch-parent", resp.Task.Type)

	// Requested concurrency is clamped into the payload before storage.
	stored, err := env.store.GetByID(context.Background(), uuid.MustParse(resp.Task.ID))
	require.NoError(t, err)
	var input task.BatchInput
	require.NoError(t, json.Unmarshal(stored.Payload, &input))
	assert.Equal(t, task.MaxConcurrency, input.Concurrency)
	assert.Equal(t, 4, input.Variants)
}

func TestCreateProductShotTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()

	rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID.String(),
		api.CreateTaskRequest{Type: "product-shot", Prompt: "a mug", Angles: []string{"front", "side"}})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp api.CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	require.Len(t, resp.Siblings, 2)
	for _, sibling := range resp.Siblings {
		assert.Equal(t, "product-shot", sibling.Type)
		assert.Equal(t, resp.BatchID, sibling.BatchID)
	}

	assert.Equal(t, 2, env.enqueued.count(), "every sibling is enqueued")
}

func TestCreateTaskRateLimited(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounterStore(), 2, time.Hour)
	env := newTestEnv(t, limiter)
	ownerID := uuid.New().String()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
			api.CreateTaskRequest{Type: "single", Prompt: "a chair"})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, env.router, http.MethodPost, "/api/tasks", ownerID,
		api.CreateTaskRequest{Type: "single", Prompt: "a chair"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different owner still has budget.
	rec = doJSON(t, env.router, http.MethodPost, "/api/tasks", uuid.New().String(),
		api.CreateTaskRequest{Type: "single", Prompt: "a chair"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()

	created, err := domain.NewTask(ownerID, domain.TaskTypeSingle,
		json.RawMessage(`{"prompt":"x"}`), nil)
	require.NoError(t, err)
	require.NoError(t, env.store.Create(context.Background(), created))

	t.Run("own task", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+created.ID.String(), ownerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got api.TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, created.ID.String(), got.ID)
	})

	t.Run("someone else's task", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+created.ID.String(), uuid.New().String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+uuid.New().String(), ownerID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/garbage", ownerID.String(), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// stubStatusReader serves canned snapshots and records lookups.
type stubStatusReader struct {
	mu        sync.Mutex
	snapshots map[string]*events.TaskStatusEvent
	err       error
	lookups   int
}

func (s *stubStatusReader) Get(_ context.Context, taskID string) (*events.TaskStatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshots[taskID], nil
}

func TestGetTaskStatus(t *testing.T) {
	t.Parallel()

	ownerID := uuid.New()
	ctx := context.Background()

	t.Run("cached snapshot served without the store", func(t *testing.T) {
		taskID := uuid.New()
		reader := &stubStatusReader{snapshots: map[string]*events.TaskStatusEvent{
			taskID.String(): {
				TaskID:   taskID,
				OwnerID:  ownerID,
				Status:   domain.TaskStatusProcessing,
				Progress: 10,
			},
		}}
		// The task is deliberately absent from the store; only the cache
		// can answer.
		env := newTestEnvWithStatus(t, nil, reader)

		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+taskID.String()+"/status", ownerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got events.TaskStatusEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, taskID, got.TaskID)
		assert.Equal(t, domain.TaskStatusProcessing, got.Status)
		assert.Equal(t, 10, got.Progress)
		assert.Equal(t, 1, reader.lookups)
	})

	t.Run("cached snapshot enforces ownership", func(t *testing.T) {
		taskID := uuid.New()
		reader := &stubStatusReader{snapshots: map[string]*events.TaskStatusEvent{
			taskID.String(): {TaskID: taskID, OwnerID: uuid.New(), Status: domain.TaskStatusPending},
		}}
		env := newTestEnvWithStatus(t, nil, reader)

		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+taskID.String()+"/status", ownerID.String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("cache miss falls back to the store", func(t *testing.T) {
		reader := &stubStatusReader{}
		env := newTestEnvWithStatus(t, nil, reader)

		created, err := domain.NewTask(ownerID, domain.TaskTypeSingle,
			json.RawMessage(`{"prompt":"x"}`), nil)
		require.NoError(t, err)
		require.NoError(t, env.store.Create(ctx, created))

		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+created.ID.String()+"/status", ownerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got events.TaskStatusEvent
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, created.ID, got.TaskID)
		assert.Equal(t, domain.TaskStatusPending, got.Status)
		assert.Equal(t, 1, reader.lookups)
	})

	t.Run("cache error falls back to the store", func(t *testing.T) {
		reader := &stubStatusReader{err: errors.New("redis down")}
		env := newTestEnvWithStatus(t, nil, reader)

		created, err := domain.NewTask(ownerID, domain.TaskTypeSingle,
			json.RawMessage(`{"prompt":"x"}`), nil)
		require.NoError(t, err)
		require.NoError(t, env.store.Create(ctx, created))

		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+created.ID.String()+"/status", ownerID.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no reader configured reads the store", func(t *testing.T) {
		env := newTestEnv(t, nil)

		created, err := domain.NewTask(ownerID, domain.TaskTypeSingle,
			json.RawMessage(`{"prompt":"x"}`), nil)
		require.NoError(t, err)
		require.NoError(t, env.store.Create(ctx, created))

		rec := doJSON(t, env.router, http.MethodGet, "/api/tasks/"+created.ID.String()+"/status", ownerID.String(), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCancelTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()
	ctx := context.Background()

	create := func(t *testing.T) *domain.Task {
		task, err := domain.NewTask(ownerID, domain.TaskTypeSingle,
			json.RawMessage(`{"prompt":"x"}`), nil)
		require.NoError(t, err)
		require.NoError(t, env.store.Create(ctx, task))
		return task
	}

	t.Run("cancels pending task", func(t *testing.T) {
		created := create(t)
		rec := doJSON(t, env.router, http.MethodDelete, "/api/tasks/"+created.ID.String(), ownerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got api.TaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "cancelled", got.Status)
	})

	t.Run("wrong owner", func(t *testing.T) {
		created := create(t)
		rec := doJSON(t, env.router, http.MethodDelete, "/api/tasks/"+created.ID.String(), uuid.New().String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("completed task conflicts", func(t *testing.T) {
		created := create(t)
		require.NoError(t, env.store.Complete(ctx, created.ID, json.RawMessage(`{}`)))

		rec := doJSON(t, env.router, http.MethodDelete, "/api/tasks/"+created.ID.String(), ownerID.String(), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown task", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodDelete, "/api/tasks/"+uuid.New().String(), ownerID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListActiveTasks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()
	ctx := context.Background()

	mine, err := domain.NewTask(ownerID, domain.TaskTypeSingle, json.RawMessage(`{"prompt":"x"}`), nil)
	require.NoError(t, err)
	require.NoError(t, env.store.Create(ctx, mine))

	other, err := domain.NewTask(uuid.New(), domain.TaskTypeSingle, json.RawMessage(`{"prompt":"x"}`), nil)
	require.NoError(t, err)
	require.NoError(t, env.store.Create(ctx, other))

	rec := doJSON(t, env.router, http.MethodGet, "/api/tasks", ownerID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []api.TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID.String(), got[0].ID)
}

func TestGetBatchStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ownerID := uuid.New()
	ctx := context.Background()

	coordinator := task.NewCoordinator(env.store, testLogger())
	siblings, batchID, err := coordinator.ExpandProductShot(ctx, ownerID, task.ProductShotInput{
		Prompt: "a mug",
		Angles: []string{"front", "side", "top"},
	})
	require.NoError(t, err)
	require.NoError(t, env.store.Complete(ctx, siblings[0].ID, json.RawMessage(`{}`)))

	t.Run("returns progress and siblings", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/batches/"+batchID.String(), ownerID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got api.BatchStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.NotNil(t, got.Progress)
		assert.Equal(t, 3, got.Progress.Total)
		assert.Equal(t, 1, got.Progress.Completed)
		assert.Len(t, got.Tasks, 3)
	})

	t.Run("unknown batch", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/batches/"+uuid.New().String(), ownerID.String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("wrong owner", func(t *testing.T) {
		rec := doJSON(t, env.router, http.MethodGet, "/api/batches/"+batchID.String(), uuid.New().String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestGetQueueStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx := context.Background()

	created, err := domain.NewTask(uuid.New(), domain.TaskTypeSingle, json.RawMessage(`{"prompt":"x"}`), nil)
	require.NoError(t, err)
	require.NoError(t, env.store.Create(ctx, created))

	rec := doJSON(t, env.router, http.MethodGet, "/api/queue/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Total)
}
