package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

// RedisBroadcaster publishes status updates on a redis channel. Worker
// processes have no websocket clients of their own; the API process
// subscribes to the same channel and relays into its hub.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:  client,
		channel: channel,
	}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, event domain.StatusEvent) error {
	msg := domain.WSMessage{
		Type: domain.WSTypeStatusUpdate,
		Data: event,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish status message: %w", err)
	}
	return nil
}

// Subscribe hands every status message on the channel to fn until ctx is
// cancelled. Used by the API process to relay into the websocket hub.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, fn func(domain.WSMessage)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wsMsg domain.WSMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wsMsg); err != nil {
				continue
			}
			fn(wsMsg)
		}
	}
}
