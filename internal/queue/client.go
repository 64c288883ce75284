package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Enqueuer is the downstream-enqueue surface the orchestrators depend on.
type Enqueuer interface {
	EnqueueIngredientParse(ctx context.Context, payload IngredientPayload) error
	EnqueueInstructionParse(ctx context.Context, payload InstructionPayload) error
	EnqueueImageProcess(ctx context.Context, payload ImagePayload) error
	EnqueueCategorize(ctx context.Context, payload CategorizationPayload) error
}

type QueueClient struct {
	client     *asynq.Client
	logger     *logger.Logger
	maxRetries int
	jobTimeout time.Duration
}

func NewQueueClient(redisAddr string, cfg config.QueueConfig, log *logger.Logger) *QueueClient {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	return &QueueClient{
		client:     client,
		logger:     log,
		maxRetries: cfg.MaxRetries,
		jobTimeout: cfg.JobTimeout,
	}
}

func (q *QueueClient) Close() error {
	return q.client.Close()
}

func (q *QueueClient) enqueue(ctx context.Context, task *asynq.Task) error {
	opts := []asynq.Option{
		asynq.MaxRetry(q.maxRetries),
		asynq.Timeout(q.jobTimeout),
		asynq.Queue(QueueForType(task.Type())),
	}

	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		q.logger.Error(ctx, "failed to enqueue task", err, map[string]interface{}{
			"task_type": task.Type(),
		})
		return fmt.Errorf("failed to enqueue %s task: %w", task.Type(), err)
	}

	q.logger.Info(ctx, "task enqueued", map[string]interface{}{
		"task_type": task.Type(),
		"task_id":   info.ID,
		"queue":     info.Queue,
	})
	return nil
}

func (q *QueueClient) EnqueueNoteCreate(ctx context.Context, payload NotePayload) error {
	task, err := NewNoteCreateTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

func (q *QueueClient) EnqueueIngredientParse(ctx context.Context, payload IngredientPayload) error {
	task, err := NewIngredientParseTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

func (q *QueueClient) EnqueueInstructionParse(ctx context.Context, payload InstructionPayload) error {
	task, err := NewInstructionParseTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

func (q *QueueClient) EnqueueImageProcess(ctx context.Context, payload ImagePayload) error {
	task, err := NewImageProcessTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}

func (q *QueueClient) EnqueueCategorize(ctx context.Context, payload CategorizationPayload) error {
	task, err := NewCategorizeTask(payload)
	if err != nil {
		return err
	}
	return q.enqueue(ctx, task)
}
