package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgelight/imageforge/internal/events"
	"github.com/redis/go-redis/v9"
)

const statusKeyPrefix = "task:status:"

// StatusCache mirrors the latest status snapshot of each task into Redis
// so other instances (and cheap polling endpoints) can read it without
// touching the database. It subscribes to status events as an
// events.Handler.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache creates a status cache. Entries expire after ttl; zero
// means they never expire.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

// HandleEvent implements events.Handler by overwriting the cached
// snapshot for the event's task.
func (c *StatusCache) HandleEvent(ctx context.Context, event *events.TaskStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status snapshot: %w", err)
	}

	key := statusKeyPrefix + event.TaskID.String()
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot for a task, or nil when none is cached.
func (c *StatusCache) Get(ctx context.Context, taskID string) (*events.TaskStatusEvent, error) {
	data, err := c.client.Get(ctx, statusKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status snapshot: %w", err)
	}

	var event events.TaskStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode status snapshot: %w", err)
	}
	return &event, nil
}
