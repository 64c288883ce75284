package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/service"
)

// CategorizationHandler assigns a category to a fully parsed note, going
// through the cache so repeated lookups for the same note stay cheap.
type CategorizationHandler struct {
	*Orchestrator
	notes       repository.NoteRepository
	categorizer service.Categorizer
	cache       *service.CacheService
}

func NewCategorizationHandler(orch *Orchestrator, notes repository.NoteRepository, categorizer service.Categorizer, cache *service.CacheService) *CategorizationHandler {
	return &CategorizationHandler{
		Orchestrator: orch,
		notes:        notes,
		categorizer:  categorizer,
		cache:        cache,
	}
}

func (h *CategorizationHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID, retryCount := envelope(ctx)
	start := time.Now()

	payload, err := ParseCategorizationPayload(task)
	if err != nil {
		return h.validationFail(ctx, QueueCategorization, jobID, domain.StatusEvent{}, err)
	}
	noteID := payload.NoteID
	event := domain.StatusEvent{
		ImportID: payload.ImportID,
		NoteID:   &noteID,
		Context:  "categorization",
	}

	if err := payload.Validate(); err != nil {
		event.NoteID = nil
		return h.validationFail(ctx, QueueCategorization, jobID, event, err)
	}
	if err := h.ensureHealthy(ctx); err != nil {
		return h.fail(ctx, QueueCategorization, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusProcessing
	event.Message = "categorizing note"
	h.emit(ctx, event)

	var note *domain.Note
	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			var err error
			note, err = h.notes.GetByID(ctx, noteID)
			return err
		})
	}, map[string]interface{}{"note_id": noteID.String()})
	if err != nil {
		return h.fail(ctx, QueueCategorization, jobID, retryCount, start, event, err)
	}

	var category string
	cacheKey, _ := service.GenerateKey(service.KeyPrefixNote+":", noteID.String(), "category")
	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.cache.GetOrSet(ctx, cacheKey, &category, func(ctx context.Context) (interface{}, error) {
			return h.categorizer.Categorize(ctx, note.Title, payload.File)
		}, service.CacheOptions{
			TTL:  service.TTLNote,
			Tags: []string{"note:" + noteID.String()},
		})
	}, map[string]interface{}{"note_id": noteID.String()})
	if err != nil {
		return h.fail(ctx, QueueCategorization, jobID, retryCount, start, event, err)
	}

	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			return h.notes.SetCategory(ctx, noteID, category)
		})
	}, map[string]interface{}{"note_id": noteID.String(), "category": category})
	if err != nil {
		return h.fail(ctx, QueueCategorization, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusCompleted
	event.Message = "note categorized as " + category
	event.Metadata = map[string]interface{}{"category": category}
	h.emit(ctx, event)

	h.finish(ctx, QueueCategorization, jobID, start)
	return nil
}
