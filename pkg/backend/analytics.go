package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	// EventsStreamKey is the Redis stream receiving analytics events.
	EventsStreamKey = "sessioncore:events"
	// eventsMaxLen caps the stream so an unread backlog cannot grow forever.
	eventsMaxLen = 10000
)

// RedisAnalytics appends events to a capped Redis stream.
type RedisAnalytics struct {
	client *redis.Client
}

// NewRedisAnalytics creates an analytics sink over client.
func NewRedisAnalytics(client *redis.Client) *RedisAnalytics {
	return &RedisAnalytics{client: client}
}

// Insert appends one event to the stream.
func (a *RedisAnalytics) Insert(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Name, err)
	}

	err = a.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventsStreamKey,
		MaxLen: eventsMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"event": event.Name,
			"data":  string(data),
		},
	}).Err()
	if err != nil {
		logrus.Warnf("failed to insert analytics event %s: %v", event.Name, err)
		return fmt.Errorf("failed to insert event: %w", err)
	}

	logrus.Debugf("inserted analytics event %s", event.Name)
	return nil
}
