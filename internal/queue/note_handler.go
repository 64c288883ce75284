package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/service"
)

// NoteHandler runs the first pipeline stage: segment the document, persist
// the note, and fan out the line-parsing and image stages.
type NoteHandler struct {
	*Orchestrator
	notes     repository.NoteRepository
	segmenter service.Segmenter
	cache     *service.CacheService
	enqueuer  Enqueuer
}

func NewNoteHandler(orch *Orchestrator, notes repository.NoteRepository, segmenter service.Segmenter, cache *service.CacheService, enqueuer Enqueuer) *NoteHandler {
	return &NoteHandler{
		Orchestrator: orch,
		notes:        notes,
		segmenter:    segmenter,
		cache:        cache,
		enqueuer:     enqueuer,
	}
}

func (h *NoteHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID, retryCount := envelope(ctx)
	start := time.Now()

	payload, err := ParseNotePayload(task)
	if err != nil {
		return h.validationFail(ctx, QueueNotes, jobID, domain.StatusEvent{}, err)
	}
	event := domain.StatusEvent{ImportID: payload.ImportID, Context: "note"}

	if err := payload.Validate(); err != nil {
		return h.validationFail(ctx, QueueNotes, jobID, event, err)
	}
	if err := h.ensureHealthy(ctx); err != nil {
		return h.fail(ctx, QueueNotes, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusProcessing
	event.Message = "creating note"
	h.emit(ctx, event)

	var segmented domain.SegmentedContent
	cacheKey, _ := service.GenerateKey(service.KeyPrefixHTML+":", payload.ImportID.String())
	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.cache.GetOrSet(ctx, cacheKey, &segmented, func(ctx context.Context) (interface{}, error) {
			return h.segmenter.Segment(ctx, payload.Content)
		}, service.CacheOptions{
			TTL:  service.TTLHTML,
			Tags: []string{"import:" + payload.ImportID.String()},
		})
	}, map[string]interface{}{"import_id": payload.ImportID.String()})
	if err != nil {
		return h.fail(ctx, QueueNotes, jobID, retryCount, start, event, err)
	}

	now := time.Now().UTC()
	note := &domain.Note{
		ID:        uuid.New(),
		ImportID:  payload.ImportID,
		Title:     segmented.Title,
		Content:   payload.Content,
		Source:    payload.Source,
		Status:    domain.NoteStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = h.errors.WithErrorHandling(ctx, func() error {
		return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			return h.notes.Create(ctx, note)
		})
	}, map[string]interface{}{"note_id": note.ID.String()})
	if err != nil {
		return h.fail(ctx, QueueNotes, jobID, retryCount, start, event, err)
	}

	event.NoteID = &note.ID

	if err := h.enqueueDownstream(ctx, payload.ImportID, note.ID, &segmented); err != nil {
		return h.fail(ctx, QueueNotes, jobID, retryCount, start, event, err)
	}

	event.Status = domain.StatusCompleted
	event.Message = "note created"
	event.Metadata = map[string]interface{}{
		"ingredient_lines":  len(segmented.IngredientLines),
		"instruction_lines": len(segmented.InstructionLines),
	}
	h.emit(ctx, event)

	h.finish(ctx, QueueNotes, jobID, start)
	return nil
}

func (h *NoteHandler) enqueueDownstream(ctx context.Context, importID, noteID uuid.UUID, segmented *domain.SegmentedContent) error {
	return h.errors.WithErrorHandling(ctx, func() error {
		if err := h.enqueuer.EnqueueIngredientParse(ctx, IngredientPayload{
			ImportID: importID,
			Note: NoteRef{
				ID:                    noteID,
				ParsedIngredientLines: toLinePayloads(segmented.IngredientLines),
			},
		}); err != nil {
			return err
		}

		if err := h.enqueuer.EnqueueInstructionParse(ctx, InstructionPayload{
			ImportID: importID,
			Note: NoteRef{
				ID:                     noteID,
				ParsedInstructionLines: toLinePayloads(segmented.InstructionLines),
			},
		}); err != nil {
			return err
		}

		if segmented.ImageURL != "" {
			if err := h.enqueuer.EnqueueImageProcess(ctx, ImagePayload{
				ImportID: importID,
				NoteID:   noteID,
				File:     segmented.ImageURL,
			}); err != nil {
				return err
			}
		}
		return nil
	}, map[string]interface{}{"note_id": noteID.String()})
}

func toLinePayloads(lines []string) []LinePayload {
	out := make([]LinePayload, 0, len(lines))
	for i, reference := range lines {
		out = append(out, LinePayload{
			ID:         uuid.New(),
			BlockIndex: 0,
			LineIndex:  i,
			Reference:  reference,
		})
	}
	return out
}
