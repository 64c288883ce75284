package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/service"
)

// IngredientHandler parses segmented ingredient lines and persists them in
// order-preserving batches. Line-level parse failures are counted, not fatal.
type IngredientHandler struct {
	*Orchestrator
	notes     repository.NoteRepository
	parser    service.IngredientParser
	batchSize int
}

func NewIngredientHandler(orch *Orchestrator, notes repository.NoteRepository, parser service.IngredientParser, batchSize int) *IngredientHandler {
	return &IngredientHandler{
		Orchestrator: orch,
		notes:        notes,
		parser:       parser,
		batchSize:    batchSize,
	}
}

func (h *IngredientHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID, retryCount := envelope(ctx)
	start := time.Now()

	payload, err := ParseIngredientPayload(task)
	if err != nil {
		return h.validationFail(ctx, QueueIngredients, jobID, domain.StatusEvent{}, err)
	}
	noteID := payload.Note.ID
	event := domain.StatusEvent{
		ImportID: payload.ImportID,
		NoteID:   &noteID,
		Context:  "ingredients",
	}

	if err := payload.Validate(); err != nil {
		event.NoteID = nil
		return h.validationFail(ctx, QueueIngredients, jobID, event, err)
	}
	if err := h.ensureHealthy(ctx); err != nil {
		return h.fail(ctx, QueueIngredients, jobID, retryCount, start, event, err)
	}

	lines := payload.Note.ParsedIngredientLines
	event.Status = domain.StatusProcessing
	event.Message = "parsing ingredients"
	event.TotalCount = len(lines)
	h.emit(ctx, event)

	errCount := h.processLineBatches(ctx, QueueIngredients, lines, h.batchSize,
		func(current, total int) {
			progress := event
			progress.Message = "parsing ingredients"
			progress.CurrentCount = current
			progress.TotalCount = total
			h.emit(ctx, progress)
		},
		func(ctx context.Context, line LinePayload) error {
			parsed, err := h.parser.ParseIngredient(ctx, line.Reference)
			if err != nil {
				return domain.NewJobError(err, domain.ErrorKindParsing, domain.SeverityLow, nil)
			}
			return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
				return h.notes.SaveIngredient(ctx, noteID, toParsedLine(line), parsed)
			})
		})

	event.Status = domain.StatusCompleted
	event.Message = completionMessage("ingredient parsing", len(lines), errCount)
	event.CurrentCount = len(lines)
	h.emit(ctx, event)

	h.finish(ctx, QueueIngredients, jobID, start)
	return nil
}

func toParsedLine(line LinePayload) domain.ParsedLine {
	return domain.ParsedLine{
		ID:         line.ID,
		BlockIndex: line.BlockIndex,
		LineIndex:  line.LineIndex,
		Reference:  line.Reference,
	}
}
