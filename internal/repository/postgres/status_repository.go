package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orchids/recipe-pipeline/internal/domain"
)

type PostgresStatusRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresStatusRepository(pool *pgxpool.Pool) *PostgresStatusRepository {
	return &PostgresStatusRepository{
		pool: pool,
	}
}

func (r *PostgresStatusRepository) AddStatusEvent(ctx context.Context, event *domain.StatusEvent) (*domain.StatusEvent, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status metadata: %w", err)
		}
	}

	query := `
		INSERT INTO status_events (
			id, import_id, note_id, status, message, context, error_message,
			current_count, total_count, indent_level, metadata, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.ImportID,
		event.NoteID,
		event.Status,
		event.Message,
		event.Context,
		event.ErrorMessage,
		event.CurrentCount,
		event.TotalCount,
		event.IndentLevel,
		metadata,
		event.CreatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to insert status event: %w", err)
	}

	return event, nil
}
