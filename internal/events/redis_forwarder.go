package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisForwarder republishes bus events on a Redis pub/sub channel so other
// processes (dashboards, a second device agent) can observe sync progress.
type RedisForwarder struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

func NewRedisForwarder(client *redis.Client, channel string) *RedisForwarder {
	return &RedisForwarder{client: client, channel: channel, timeout: 2 * time.Second}
}

// Attach subscribes the forwarder to status and outcome events on bus.
func (f *RedisForwarder) Attach(bus *EventBus) (detach func()) {
	unsubStatus := bus.Subscribe(EventSyncStatus, f.Forward)
	unsubOutcome := bus.Subscribe(EventIntentSynced, f.Forward)
	return func() {
		unsubStatus()
		unsubOutcome()
	}
}

// Forward publishes the event envelope as JSON.
func (f *RedisForwarder) Forward(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}
