package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

func TestRedisBroadcasterRelaysStatusEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	b := NewRedisBroadcaster(client, "status:events")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan domain.WSMessage, 1)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		b.Subscribe(ctx, func(msg domain.WSMessage) {
			select {
			case received <- msg:
			default:
			}
		})
	}()

	importID := uuid.New()
	event := domain.StatusEvent{
		ImportID: importID,
		Status:   domain.StatusProcessing,
		Message:  "parsing ingredients",
	}

	// The subscriber needs a moment to register before the publish.
	require.Eventually(t, func() bool {
		require.NoError(t, b.Broadcast(ctx, event))
		select {
		case msg := <-received:
			received <- msg
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	msg := <-received
	assert.Equal(t, domain.WSTypeStatusUpdate, msg.Type)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var got domain.StatusEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, importID, got.ImportID)
	assert.Equal(t, domain.StatusProcessing, got.Status)

	cancel()
	select {
	case <-subDone:
	case <-time.After(time.Second):
		t.Fatal("subscriber did not stop on context cancellation")
	}
}
