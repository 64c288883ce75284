package service

import (
	"context"
	"fmt"
	"time"

	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Broadcaster fans a status event out to connected observers.
type Broadcaster interface {
	Broadcast(ctx context.Context, event domain.StatusEvent) error
}

// StatusService persists status events and pushes them to observers. The two
// steps are sequential, not transactional; a crash between them leaves a
// persisted-but-unbroadcast event, which is accepted.
type StatusService struct {
	repo        repository.StatusRepository
	broadcaster Broadcaster
	logger      *logger.Logger
}

func NewStatusService(repo repository.StatusRepository, broadcaster Broadcaster, log *logger.Logger) *StatusService {
	return &StatusService{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      log,
	}
}

// AddStatusEventAndBroadcast persists the event when a note id is known (a
// persistence failure aborts the whole call), then broadcasts it keyed by the
// import id so observers without a note id still receive updates. Returns the
// persisted record, or nil when no note id was supplied.
func (s *StatusService) AddStatusEventAndBroadcast(ctx context.Context, event domain.StatusEvent) (*domain.StatusEvent, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var persisted *domain.StatusEvent
	if event.NoteID != nil {
		saved, err := s.repo.AddStatusEvent(ctx, &event)
		if err != nil {
			return nil, fmt.Errorf("failed to persist status event: %w", err)
		}
		persisted = saved
	}

	if err := s.broadcaster.Broadcast(ctx, event); err != nil {
		return persisted, fmt.Errorf("failed to broadcast status event: %w", err)
	}

	return persisted, nil
}

// NotifyFailure attempts a best-effort FAILED broadcast for origErr and
// returns origErr unchanged regardless of the broadcast outcome, so a
// broadcast failure can never mask the error that actually failed the job.
func (s *StatusService) NotifyFailure(ctx context.Context, event domain.StatusEvent, origErr error) error {
	event.Status = domain.StatusFailed
	if event.ErrorMessage == "" && origErr != nil {
		event.ErrorMessage = origErr.Error()
	}

	if _, err := s.AddStatusEventAndBroadcast(ctx, event); err != nil {
		s.logger.Error(ctx, "failed to emit FAILED status", err, map[string]interface{}{
			"import_id":      event.ImportID.String(),
			"original_error": fmt.Sprint(origErr),
		})
	}
	return origErr
}
