package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/orchids/recipe-pipeline/internal/domain"
)

type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Note, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error
	SetCategory(ctx context.Context, id uuid.UUID, category string) error
	SetImagePath(ctx context.Context, id uuid.UUID, imagePath string) error
	SaveIngredient(ctx context.Context, noteID uuid.UUID, line domain.ParsedLine, parsed domain.ParsedIngredient) error
	SaveInstruction(ctx context.Context, noteID uuid.UUID, line domain.ParsedLine, parsed domain.ParsedInstruction) error
}

type StatusRepository interface {
	AddStatusEvent(ctx context.Context, event *domain.StatusEvent) (*domain.StatusEvent, error)
}
