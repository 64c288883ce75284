package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orchids/recipe-pipeline/internal/domain"
)

type PostgresNoteRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresNoteRepository(pool *pgxpool.Pool) *PostgresNoteRepository {
	return &PostgresNoteRepository{
		pool: pool,
	}
}

func (r *PostgresNoteRepository) Create(ctx context.Context, note *domain.Note) error {
	query := `
		INSERT INTO notes (
			id, import_id, title, content, source, image_path, category,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.pool.Exec(ctx, query,
		note.ID,
		note.ImportID,
		note.Title,
		note.Content,
		note.Source,
		note.ImagePath,
		note.Category,
		note.Status,
		note.CreatedAt,
		note.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}

	return nil
}

func (r *PostgresNoteRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Note, error) {
	query := `
		SELECT id, import_id, title, content, source, image_path, category,
			   status, created_at, updated_at
		FROM notes
		WHERE id = $1
	`

	var note domain.Note
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&note.ID,
		&note.ImportID,
		&note.Title,
		&note.Content,
		&note.Source,
		&note.ImagePath,
		&note.Category,
		&note.Status,
		&note.CreatedAt,
		&note.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}

	return &note, nil
}

func (r *PostgresNoteRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NoteStatus) error {
	query := `
		UPDATE notes
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update note status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoteNotFound
	}

	return nil
}

func (r *PostgresNoteRepository) SetCategory(ctx context.Context, id uuid.UUID, category string) error {
	query := `
		UPDATE notes
		SET category = $2, status = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, category, domain.NoteStatusCategorized)
	if err != nil {
		return fmt.Errorf("failed to set note category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoteNotFound
	}

	return nil
}

func (r *PostgresNoteRepository) SetImagePath(ctx context.Context, id uuid.UUID, imagePath string) error {
	query := `
		UPDATE notes
		SET image_path = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, imagePath)
	if err != nil {
		return fmt.Errorf("failed to set note image path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoteNotFound
	}

	return nil
}

func (r *PostgresNoteRepository) SaveIngredient(ctx context.Context, noteID uuid.UUID, line domain.ParsedLine, parsed domain.ParsedIngredient) error {
	query := `
		INSERT INTO ingredient_lines (
			id, note_id, block_index, line_index, reference,
			quantity, unit, name, comment, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, NOW()
		)
		ON CONFLICT (id) DO UPDATE
		SET quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			name = EXCLUDED.name,
			comment = EXCLUDED.comment
	`

	_, err := r.pool.Exec(ctx, query,
		line.ID,
		noteID,
		line.BlockIndex,
		line.LineIndex,
		line.Reference,
		parsed.Quantity,
		parsed.Unit,
		parsed.Name,
		parsed.Comment,
	)

	if err != nil {
		return fmt.Errorf("failed to save ingredient line: %w", err)
	}

	return nil
}

func (r *PostgresNoteRepository) SaveInstruction(ctx context.Context, noteID uuid.UUID, line domain.ParsedLine, parsed domain.ParsedInstruction) error {
	query := `
		INSERT INTO instruction_lines (
			id, note_id, block_index, line_index, reference, step, text, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (id) DO UPDATE
		SET step = EXCLUDED.step,
			text = EXCLUDED.text
	`

	_, err := r.pool.Exec(ctx, query,
		line.ID,
		noteID,
		line.BlockIndex,
		line.LineIndex,
		line.Reference,
		parsed.Step,
		parsed.Text,
	)

	if err != nil {
		return fmt.Errorf("failed to save instruction line: %w", err)
	}

	return nil
}
