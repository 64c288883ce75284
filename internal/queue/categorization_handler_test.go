package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/service"
)

func categorizationTask(t *testing.T, payload CategorizationPayload) *asynq.Task {
	t.Helper()
	task, err := NewCategorizeTask(payload)
	require.NoError(t, err)
	return task
}

func TestCategorizationHandlerAssignsCategory(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewCategorizationHandler(f.orch, repo, service.NewKeywordCategorizer(), disconnectedCache())

	noteID := uuid.New()
	repo.notes[noteID] = &domain.Note{
		ID:        noteID,
		ImportID:  uuid.New(),
		Title:     "Chocolate Cake",
		CreatedAt: time.Now(),
	}

	err := h.ProcessTask(context.Background(), categorizationTask(t, CategorizationPayload{
		ImportID: uuid.New(),
		NoteID:   noteID,
		File:     "cake.txt",
	}))
	require.NoError(t, err)
	assert.Equal(t, "dessert", repo.categories[noteID])

	last := f.broadcaster.last(t)
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Contains(t, last.Message, "dessert")
	assert.Equal(t, "dessert", last.Metadata["category"])
}

func TestCategorizationHandlerFallsBackToUncategorized(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewCategorizationHandler(f.orch, repo, service.NewKeywordCategorizer(), disconnectedCache())

	noteID := uuid.New()
	repo.notes[noteID] = &domain.Note{ID: noteID, Title: "Mystery Dish"}

	err := h.ProcessTask(context.Background(), categorizationTask(t, CategorizationPayload{
		ImportID: uuid.New(),
		NoteID:   noteID,
		File:     "dish.txt",
	}))
	require.NoError(t, err)
	assert.Equal(t, "uncategorized", repo.categories[noteID])
}

func TestCategorizationHandlerMissingNote(t *testing.T) {
	f := newOrchestratorFixture(healthyDB{})
	repo := newStubNoteRepo()
	h := NewCategorizationHandler(f.orch, repo, service.NewKeywordCategorizer(), disconnectedCache())

	err := h.ProcessTask(context.Background(), categorizationTask(t, CategorizationPayload{
		ImportID: uuid.New(),
		NoteID:   uuid.New(),
		File:     "dish.txt",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry, "a missing note cannot be fixed by redelivery")
	assert.Empty(t, repo.categories)
}
