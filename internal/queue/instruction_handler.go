package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/service"
)

// InstructionHandler normalizes segmented instruction lines into numbered
// steps, batched the same way as the ingredient stage.
type InstructionHandler struct {
	*Orchestrator
	notes     repository.NoteRepository
	parser    service.InstructionParser
	batchSize int
}

func NewInstructionHandler(orch *Orchestrator, notes repository.NoteRepository, parser service.InstructionParser, batchSize int) *InstructionHandler {
	return &InstructionHandler{
		Orchestrator: orch,
		notes:        notes,
		parser:       parser,
		batchSize:    batchSize,
	}
}

func (h *InstructionHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	jobID, retryCount := envelope(ctx)
	start := time.Now()

	payload, err := ParseInstructionPayload(task)
	if err != nil {
		return h.validationFail(ctx, QueueInstructions, jobID, domain.StatusEvent{}, err)
	}
	noteID := payload.Note.ID
	event := domain.StatusEvent{
		ImportID: payload.ImportID,
		NoteID:   &noteID,
		Context:  "instructions",
	}

	if err := payload.Validate(); err != nil {
		event.NoteID = nil
		return h.validationFail(ctx, QueueInstructions, jobID, event, err)
	}
	if err := h.ensureHealthy(ctx); err != nil {
		return h.fail(ctx, QueueInstructions, jobID, retryCount, start, event, err)
	}

	lines := payload.Note.ParsedInstructionLines
	event.Status = domain.StatusProcessing
	event.Message = "parsing instructions"
	event.TotalCount = len(lines)
	h.emit(ctx, event)

	errCount := h.processLineBatches(ctx, QueueInstructions, lines, h.batchSize,
		func(current, total int) {
			progress := event
			progress.Message = "parsing instructions"
			progress.CurrentCount = current
			progress.TotalCount = total
			h.emit(ctx, progress)
		},
		func(ctx context.Context, line LinePayload) error {
			parsed, err := h.parser.ParseInstruction(ctx, line.Reference, line.LineIndex+1)
			if err != nil {
				return domain.NewJobError(err, domain.ErrorKindParsing, domain.SeverityLow, nil)
			}
			return h.connection.ExecuteWithRetry(ctx, func(ctx context.Context) error {
				return h.notes.SaveInstruction(ctx, noteID, toParsedLine(line), parsed)
			})
		})

	event.Status = domain.StatusCompleted
	event.Message = completionMessage("instruction parsing", len(lines), errCount)
	event.CurrentCount = len(lines)
	h.emit(ctx, event)

	h.finish(ctx, QueueInstructions, jobID, start)
	return nil
}
