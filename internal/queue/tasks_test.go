package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchids/recipe-pipeline/internal/domain"
)

func TestQueueForType(t *testing.T) {
	assert.Equal(t, QueueNotes, QueueForType(TypeNoteCreate))
	assert.Equal(t, QueueIngredients, QueueForType(TypeIngredientParse))
	assert.Equal(t, QueueInstructions, QueueForType(TypeInstructionParse))
	assert.Equal(t, QueueImages, QueueForType(TypeImageProcess))
	assert.Equal(t, QueueCategorization, QueueForType(TypeCategorize))
	assert.Equal(t, "default", QueueForType("video:transcode"))
}

func TestNotePayloadValidate(t *testing.T) {
	p := &NotePayload{}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Contains(t, err.Error(), "importId")
	assert.Contains(t, err.Error(), "content")

	p = &NotePayload{ImportID: uuid.New(), Content: "Pancakes"}
	assert.NoError(t, p.Validate())
}

func TestIngredientPayloadValidate(t *testing.T) {
	p := &IngredientPayload{}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importId")
	assert.Contains(t, err.Error(), "note.id")
	assert.Contains(t, err.Error(), "note.parsedIngredientLines")

	p = &IngredientPayload{
		ImportID: uuid.New(),
		Note:     NoteRef{ID: uuid.New(), ParsedIngredientLines: []LinePayload{}},
	}
	assert.NoError(t, p.Validate(), "zero lines is valid; absent lines is not")
}

func TestInstructionPayloadValidate(t *testing.T) {
	p := &InstructionPayload{ImportID: uuid.New(), Note: NoteRef{ID: uuid.New()}}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "note.parsedInstructionLines")

	p.Note.ParsedInstructionLines = []LinePayload{}
	assert.NoError(t, p.Validate())
}

func TestImagePayloadValidate(t *testing.T) {
	p := &ImagePayload{}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importId")
	assert.Contains(t, err.Error(), "noteId")
	assert.Contains(t, err.Error(), "file")

	p = &ImagePayload{ImportID: uuid.New(), NoteID: uuid.New(), File: "/tmp/cake.jpg"}
	assert.NoError(t, p.Validate())
}

func TestCategorizationPayloadValidate(t *testing.T) {
	p := &CategorizationPayload{ImportID: uuid.New(), NoteID: uuid.New()}
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

// Empty line slices must survive the trip through the queue: a note with no
// ingredient lines is still a valid job.
func TestZeroLinePayloadSurvivesSerialization(t *testing.T) {
	task, err := NewIngredientParseTask(IngredientPayload{
		ImportID: uuid.New(),
		Note:     NoteRef{ID: uuid.New(), ParsedIngredientLines: []LinePayload{}},
	})
	require.NoError(t, err)

	decoded, err := ParseIngredientPayload(task)
	require.NoError(t, err)
	assert.NotNil(t, decoded.Note.ParsedIngredientLines)
	assert.NoError(t, decoded.Validate())
}

func TestParsePayloadRejectsMalformedJSON(t *testing.T) {
	task := asynq.NewTask(TypeNoteCreate, []byte("{not json"))
	_, err := ParseNotePayload(task)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
