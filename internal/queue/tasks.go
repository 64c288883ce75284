package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

const (
	TypeNoteCreate       = "note:create"
	TypeIngredientParse  = "ingredient:parse"
	TypeInstructionParse = "instruction:parse"
	TypeImageProcess     = "image:process"
	TypeCategorize       = "note:categorize"
)

const (
	QueueNotes          = "notes"
	QueueIngredients    = "ingredients"
	QueueInstructions   = "instructions"
	QueueImages         = "images"
	QueueCategorization = "categorization"
)

// QueueForType maps a task type to the queue its jobs run on.
func QueueForType(taskType string) string {
	switch taskType {
	case TypeNoteCreate:
		return QueueNotes
	case TypeIngredientParse:
		return QueueIngredients
	case TypeInstructionParse:
		return QueueInstructions
	case TypeImageProcess:
		return QueueImages
	case TypeCategorize:
		return QueueCategorization
	default:
		return "default"
	}
}

// LinePayload is one segmented line candidate carried through the queue.
type LinePayload struct {
	ID         uuid.UUID `json:"id"`
	BlockIndex int       `json:"blockIndex"`
	LineIndex  int       `json:"lineIndex"`
	Reference  string    `json:"reference"`
}

// NoteRef identifies the note a line-parsing job operates on, together with
// the line candidates for that stage.
type NoteRef struct {
	ID                     uuid.UUID     `json:"id"`
	ParsedIngredientLines  []LinePayload `json:"parsedIngredientLines"`
	ParsedInstructionLines []LinePayload `json:"parsedInstructionLines"`
}

type NotePayload struct {
	ImportID uuid.UUID `json:"importId"`
	Content  string    `json:"content"`
	Source   string    `json:"source,omitempty"`
}

func (p *NotePayload) Validate() error {
	var missing []string
	if p.ImportID == uuid.Nil {
		missing = append(missing, "importId")
	}
	if p.Content == "" {
		missing = append(missing, "content")
	}
	return missingFieldsError(missing)
}

type IngredientPayload struct {
	ImportID uuid.UUID `json:"importId"`
	Note     NoteRef   `json:"note"`
}

func (p *IngredientPayload) Validate() error {
	var missing []string
	if p.ImportID == uuid.Nil {
		missing = append(missing, "importId")
	}
	if p.Note.ID == uuid.Nil {
		missing = append(missing, "note.id")
	}
	if p.Note.ParsedIngredientLines == nil {
		missing = append(missing, "note.parsedIngredientLines")
	}
	return missingFieldsError(missing)
}

type InstructionPayload struct {
	ImportID uuid.UUID `json:"importId"`
	Note     NoteRef   `json:"note"`
}

func (p *InstructionPayload) Validate() error {
	var missing []string
	if p.ImportID == uuid.Nil {
		missing = append(missing, "importId")
	}
	if p.Note.ID == uuid.Nil {
		missing = append(missing, "note.id")
	}
	if p.Note.ParsedInstructionLines == nil {
		missing = append(missing, "note.parsedInstructionLines")
	}
	return missingFieldsError(missing)
}

type ImagePayload struct {
	ImportID uuid.UUID `json:"importId"`
	NoteID   uuid.UUID `json:"noteId"`
	File     string    `json:"file"`
}

func (p *ImagePayload) Validate() error {
	var missing []string
	if p.ImportID == uuid.Nil {
		missing = append(missing, "importId")
	}
	if p.NoteID == uuid.Nil {
		missing = append(missing, "noteId")
	}
	if p.File == "" {
		missing = append(missing, "file")
	}
	return missingFieldsError(missing)
}

type CategorizationPayload struct {
	ImportID uuid.UUID `json:"importId"`
	NoteID   uuid.UUID `json:"noteId"`
	File     string    `json:"file"`
}

func (p *CategorizationPayload) Validate() error {
	var missing []string
	if p.ImportID == uuid.Nil {
		missing = append(missing, "importId")
	}
	if p.NoteID == uuid.Nil {
		missing = append(missing, "noteId")
	}
	if p.File == "" {
		missing = append(missing, "file")
	}
	return missingFieldsError(missing)
}

func missingFieldsError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing required fields: %s", domain.ErrInvalidPayload, strings.Join(missing, ", "))
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, payloadBytes), nil
}

func NewNoteCreateTask(payload NotePayload) (*asynq.Task, error) {
	return newTask(TypeNoteCreate, payload)
}

func NewIngredientParseTask(payload IngredientPayload) (*asynq.Task, error) {
	return newTask(TypeIngredientParse, payload)
}

func NewInstructionParseTask(payload InstructionPayload) (*asynq.Task, error) {
	return newTask(TypeInstructionParse, payload)
}

func NewImageProcessTask(payload ImagePayload) (*asynq.Task, error) {
	return newTask(TypeImageProcess, payload)
}

func NewCategorizeTask(payload CategorizationPayload) (*asynq.Task, error) {
	return newTask(TypeCategorize, payload)
}

func parsePayload[T any](task *asynq.Task) (*T, error) {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal %s payload: %v", domain.ErrInvalidPayload, task.Type(), err)
	}
	return &payload, nil
}

func ParseNotePayload(task *asynq.Task) (*NotePayload, error) {
	return parsePayload[NotePayload](task)
}

func ParseIngredientPayload(task *asynq.Task) (*IngredientPayload, error) {
	return parsePayload[IngredientPayload](task)
}

func ParseInstructionPayload(task *asynq.Task) (*InstructionPayload, error) {
	return parsePayload[InstructionPayload](task)
}

func ParseImagePayload(task *asynq.Task) (*ImagePayload, error) {
	return parsePayload[ImagePayload](task)
}

func ParseCategorizationPayload(task *asynq.Task) (*CategorizationPayload, error) {
	return parsePayload[CategorizationPayload](task)
}
