package domain

import (
	"time"

	"github.com/google/uuid"
)

type NoteStatus string

const (
	NoteStatusCreated     NoteStatus = "created"
	NoteStatusParsing     NoteStatus = "parsing"
	NoteStatusCategorized NoteStatus = "categorized"
	NoteStatusReady       NoteStatus = "ready"
	NoteStatusFailed      NoteStatus = "failed"
)

// Note is one ingested recipe document with its segmented line candidates.
type Note struct {
	ID        uuid.UUID  `json:"id"`
	ImportID  uuid.UUID  `json:"import_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Source    string     `json:"source,omitempty"`
	ImagePath string     `json:"image_path,omitempty"`
	Category  string     `json:"category,omitempty"`
	Status    NoteStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ParsedLine is one segmented candidate line awaiting stage-specific parsing.
// BlockIndex/LineIndex preserve document order across batched writes.
type ParsedLine struct {
	ID         uuid.UUID `json:"id"`
	NoteID     uuid.UUID `json:"note_id"`
	BlockIndex int       `json:"block_index"`
	LineIndex  int       `json:"line_index"`
	Reference  string    `json:"reference"`
}

// ParsedIngredient is the structured result of parsing one ingredient line.
type ParsedIngredient struct {
	LineID   uuid.UUID `json:"line_id"`
	Quantity string    `json:"quantity,omitempty"`
	Unit     string    `json:"unit,omitempty"`
	Name     string    `json:"name"`
	Comment  string    `json:"comment,omitempty"`
}

// ParsedInstruction is a normalized instruction step.
type ParsedInstruction struct {
	LineID uuid.UUID `json:"line_id"`
	Step   int       `json:"step"`
	Text   string    `json:"text"`
}

// SegmentedContent is what the external segmentation collaborator produces
// from a raw document.
type SegmentedContent struct {
	Title            string
	IngredientLines  []string
	InstructionLines []string
	ImageURL         string
}
