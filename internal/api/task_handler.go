package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/forgelight/imageforge/internal/api/shared"
	"github.com/forgelight/imageforge/internal/domain"
	"github.com/forgelight/imageforge/internal/events"
	"github.com/forgelight/imageforge/internal/ratelimit"
	"github.com/forgelight/imageforge/internal/store"
	"github.com/forgelight/imageforge/internal/task"
)

// Enqueuer hands a freshly created task to the delivery path. A nil
// Enqueuer means the polling fallback will pick the task up instead.
type Enqueuer func(ctx context.Context, t *domain.Task) error

// StatusReader serves cached status snapshots. A nil reader means status
// polls go straight to the task store.
type StatusReader interface {
	Get(ctx context.Context, taskID string) (*events.TaskStatusEvent, error)
}

// TaskHandler handles task lifecycle HTTP requests.
type TaskHandler struct {
	store       store.TaskStore
	coordinator *task.Coordinator
	enqueue     Enqueuer
	limiter     *ratelimit.Limiter
	status      StatusReader
	logger      *slog.Logger
	validator   *validator.Validate
}

// NewTaskHandler creates a TaskHandler. enqueue, limiter and status may be
// nil.
func NewTaskHandler(
	taskStore store.TaskStore,
	coordinator *task.Coordinator,
	enqueue Enqueuer,
	limiter *ratelimit.Limiter,
	status StatusReader,
	logger *slog.Logger,
) *TaskHandler {
	return &TaskHandler{
		store:       taskStore,
		coordinator: coordinator,
		enqueue:     enqueue,
		limiter:     limiter,
		status:      status,
		logger:      logger.With("component", "task_handler"),
		validator:   validator.New(),
	}
}

// CreateTask handles POST /api/tasks requests. Processing happens
// asynchronously, so success is 202 Accepted with the pending record.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), ownerID.String())
		if err != nil {
			// Fail open; the limiter already logged the backend error.
			h.logger.Warn("rate limiter unavailable", "error", err, "owner_id", ownerID)
		}
		if !allowed {
			shared.RespondWithError(w, r, http.StatusTooManyRequests, "Task creation rate limit exceeded")
			return
		}
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	switch req.Type {
	case "single":
		h.createSingle(w, r, ownerID, req)
	case "batch":
		h.createBatch(w, r, ownerID, req)
	case "product-shot":
		h.createProductShot(w, r, ownerID, req)
	default:
		shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
	}
}

func (h *TaskHandler) createSingle(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID, req CreateTaskRequest) {
	payload, err := json.Marshal(task.SingleInput{
		Prompt:         req.Prompt,
		Template:       req.Template,
		Variables:      req.Variables,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	newTask, err := domain.NewTask(ownerID, domain.TaskTypeSingle, payload, nil)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	if err := h.store.Create(r.Context(), newTask); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.dispatch(r.Context(), newTask)

	resp := taskToResponse(newTask)
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{Task: &resp})
}

func (h *TaskHandler) createBatch(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID, req CreateTaskRequest) {
	if req.Variants < 1 {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(task.ErrNoVariants))
		return
	}

	payload, err := json.Marshal(task.BatchInput{
		Prompt:         req.Prompt,
		Template:       req.Template,
		Variables:      req.Variables,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Variants:       req.Variants,
		Concurrency:    task.ClampConcurrency(req.Concurrency),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to create task", err)
		return
	}

	parent, err := domain.NewTask(ownerID, domain.TaskTypeBatchParent, payload, nil)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, GetSafeErrorMessage(err), err)
		return
	}

	if err := h.store.Create(r.Context(), parent); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	h.dispatch(r.Context(), parent)

	resp := taskToResponse(parent)
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{Task: &resp})
}

func (h *TaskHandler) createProductShot(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID, req CreateTaskRequest) {
	siblings, batchID, err := h.coordinator.ExpandProductShot(r.Context(), ownerID, task.ProductShotInput{
		Prompt:         req.Prompt,
		Template:       req.Template,
		Variables:      req.Variables,
		NegativePrompt: req.NegativePrompt,
		AspectRatio:    req.AspectRatio,
		Angles:         req.Angles,
		Concurrency:    task.ClampConcurrency(req.Concurrency),
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	for _, sibling := range siblings {
		h.dispatch(r.Context(), sibling)
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{
		BatchID:  batchID.String(),
		Siblings: tasksToResponses(siblings),
	})
}

// dispatch hands the task to the delivery path. Enqueue failures are
// logged, not surfaced: the record is already durable and the polling
// fallback or reclaimer will deliver it eventually.
func (h *TaskHandler) dispatch(ctx context.Context, t *domain.Task) {
	if h.enqueue == nil {
		return
	}
	if err := h.enqueue(ctx, t); err != nil {
		h.logger.Error("failed to enqueue task, leaving for polling fallback",
			"task_id", t.ID,
			"error", err)
	}
}

// GetTask handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	t, err := h.store.GetByID(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if t.OwnerID != ownerID {
		shared.RespondWithError(w, r, http.StatusForbidden, GetSafeErrorMessage(store.ErrNotOwner))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetTaskStatus handles GET /api/tasks/{id}/status requests. The cached
// snapshot is consulted first so frequent status polls stay off the
// database; a cache miss or error falls back to the store.
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if h.status != nil {
		snapshot, err := h.status.Get(r.Context(), taskID.String())
		if err != nil {
			h.logger.Warn("status cache read failed, falling back to store",
				"task_id", taskID,
				"error", err)
		}
		if snapshot != nil {
			if snapshot.OwnerID != ownerID {
				shared.RespondWithError(w, r, http.StatusForbidden, GetSafeErrorMessage(store.ErrNotOwner))
				return
			}
			shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
			return
		}
	}

	t, err := h.store.GetByID(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if t.OwnerID != ownerID {
		shared.RespondWithError(w, r, http.StatusForbidden, GetSafeErrorMessage(store.ErrNotOwner))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, events.NewTaskStatusEvent(t))
}

// ListActiveTasks handles GET /api/tasks requests, returning the caller's
// pending and processing tasks.
func (h *TaskHandler) ListActiveTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	tasks, err := h.store.GetActive(r.Context(), ownerID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, tasksToResponses(tasks))
}

// CancelTask handles DELETE /api/tasks/{id} requests.
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	if err := h.store.Cancel(r.Context(), taskID, ownerID); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	t, err := h.store.GetByID(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(t))
}

// GetBatchStatus handles GET /api/batches/{id} requests, returning the
// sibling records and the derived per-status aggregate.
func (h *TaskHandler) GetBatchStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.OwnerIDFromContext(r.Context())
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Owner ID not found or invalid")
		return
	}

	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid batch ID")
		return
	}

	tasks, err := h.store.GetByBatch(r.Context(), batchID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if len(tasks) == 0 {
		shared.RespondWithError(w, r, http.StatusNotFound, "Batch not found")
		return
	}
	if tasks[0].OwnerID != ownerID {
		shared.RespondWithError(w, r, http.StatusForbidden, GetSafeErrorMessage(store.ErrNotOwner))
		return
	}

	progress, err := h.store.GetBatchProgress(r.Context(), batchID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, BatchStatusResponse{
		Progress: progress,
		Tasks:    tasksToResponses(tasks),
	})
}

// GetQueueStats handles GET /api/queue/stats requests.
func (h *TaskHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetQueueStats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}
