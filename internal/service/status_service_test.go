package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

type fakeStatusRepo struct {
	mu     sync.Mutex
	saved  []domain.StatusEvent
	addErr error
}

func (f *fakeStatusRepo) AddStatusEvent(ctx context.Context, event *domain.StatusEvent) (*domain.StatusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	stored := *event
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	f.saved = append(f.saved, stored)
	return &stored, nil
}

func (f *fakeStatusRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeBroadcaster struct {
	mu           sync.Mutex
	events       []domain.StatusEvent
	broadcastErr error
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, event domain.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broadcastErr != nil {
		return f.broadcastErr
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBroadcaster) all() []domain.StatusEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.StatusEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeBroadcaster) last() (domain.StatusEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return domain.StatusEvent{}, false
	}
	return f.events[len(f.events)-1], true
}

func TestAddStatusEventPersistsWhenNoteKnown(t *testing.T) {
	repo := &fakeStatusRepo{}
	broadcaster := &fakeBroadcaster{}
	s := NewStatusService(repo, broadcaster, logger.NewNop())

	noteID := uuid.New()
	persisted, err := s.AddStatusEventAndBroadcast(context.Background(), domain.StatusEvent{
		ImportID: uuid.New(),
		NoteID:   &noteID,
		Status:   domain.StatusProcessing,
		Message:  "parsing ingredients",
	})
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.NotEqual(t, uuid.Nil, persisted.ID)
	assert.False(t, persisted.CreatedAt.IsZero())
	assert.Equal(t, 1, repo.count())
	assert.Len(t, broadcaster.all(), 1)
}

func TestAddStatusEventBroadcastsWithoutNote(t *testing.T) {
	repo := &fakeStatusRepo{}
	broadcaster := &fakeBroadcaster{}
	s := NewStatusService(repo, broadcaster, logger.NewNop())

	persisted, err := s.AddStatusEventAndBroadcast(context.Background(), domain.StatusEvent{
		ImportID: uuid.New(),
		Status:   domain.StatusPending,
	})
	require.NoError(t, err)
	assert.Nil(t, persisted, "no note id, nothing persisted")
	assert.Equal(t, 0, repo.count())
	assert.Len(t, broadcaster.all(), 1)
}

func TestAddStatusEventPersistFailureAborts(t *testing.T) {
	repo := &fakeStatusRepo{addErr: errors.New("connection refused")}
	broadcaster := &fakeBroadcaster{}
	s := NewStatusService(repo, broadcaster, logger.NewNop())

	noteID := uuid.New()
	persisted, err := s.AddStatusEventAndBroadcast(context.Background(), domain.StatusEvent{
		ImportID: uuid.New(),
		NoteID:   &noteID,
		Status:   domain.StatusProcessing,
	})
	assert.Error(t, err)
	assert.Nil(t, persisted)
	assert.Empty(t, broadcaster.all(), "persistence failure suppresses the broadcast")
}

func TestNotifyFailureReturnsOriginalError(t *testing.T) {
	repo := &fakeStatusRepo{}
	broadcaster := &fakeBroadcaster{}
	s := NewStatusService(repo, broadcaster, logger.NewNop())

	origErr := errors.New("segmentation blew up")
	err := s.NotifyFailure(context.Background(), domain.StatusEvent{ImportID: uuid.New()}, origErr)
	assert.Same(t, origErr, err)

	event, ok := broadcaster.last()
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, origErr.Error(), event.ErrorMessage)
}

func TestNotifyFailureNeverMasksOriginalError(t *testing.T) {
	repo := &fakeStatusRepo{addErr: errors.New("db down")}
	broadcaster := &fakeBroadcaster{broadcastErr: errors.New("redis down")}
	s := NewStatusService(repo, broadcaster, logger.NewNop())

	origErr := errors.New("the actual failure")
	noteID := uuid.New()
	err := s.NotifyFailure(context.Background(), domain.StatusEvent{
		ImportID: uuid.New(),
		NoteID:   &noteID,
	}, origErr)
	assert.Same(t, origErr, err, "broadcast trouble must not replace the job error")
}
