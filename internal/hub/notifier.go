package hub

import (
	"context"

	"github.com/forgelight/imageforge/internal/events"
)

// Notifier bridges task status events onto the hub. Events are pushed
// under the task's own ID and, when the task belongs to a batch, under
// the batch ID as well so batch watchers see every sibling transition.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates the event-to-hub bridge.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// HandleEvent implements events.Handler.
func (n *Notifier) HandleEvent(_ context.Context, event *events.TaskStatusEvent) error {
	n.hub.Broadcast(event.TaskID.String(), event)
	if event.BatchID != nil {
		n.hub.Broadcast(event.BatchID.String(), event)
	}
	return nil
}
