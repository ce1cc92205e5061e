package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple implementation of the Emitter interface that
// stores registered handlers in memory and dispatches events to them.
type InMemoryEmitter struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEmitter creates a new instance of InMemoryEmitter.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		handlers: make([]Handler, 0),
		logger:   logger.With("component", "status_event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// Emit publishes the given event to all registered handlers. If any handler
// returns an error, the event is still sent to the remaining handlers and
// the first error encountered is returned.
func (e *InMemoryEmitter) Emit(ctx context.Context, event *TaskStatusEvent) error {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting status event",
		"task_id", event.TaskID,
		"status", event.Status,
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"task_id", event.TaskID,
				"status", event.Status)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
