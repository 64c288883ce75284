package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orchids/recipe-pipeline/internal/app"
	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/queue"
	"github.com/orchids/recipe-pipeline/internal/service"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Environment, cfg.LogLevel)
	ctx := context.Background()
	log.Info(ctx, "Starting pipeline worker", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"concurrency": cfg.Queue.Concurrency,
	})

	registry, err := app.New(ctx, cfg, log, func(client *redis.Client) service.Broadcaster {
		return service.NewRedisBroadcaster(client, cfg.Queue.StatusChannel)
	})
	if err != nil {
		log.Fatal(ctx, "Failed to wire services", err, nil)
	}
	defer registry.Close(ctx)

	registry.Start(ctx)

	uploader, err := service.NewUploader(ctx, cfg.Image)
	if err != nil {
		log.Fatal(ctx, "Failed to initialize image uploader", err, nil)
	}

	orch := queue.NewOrchestrator(registry.Errors, registry.Status, registry.Monitor, registry.Connection, log)
	parser := service.NewRuleParser()

	noteHandler := queue.NewNoteHandler(orch, registry.Notes, service.NewLineSegmenter(), registry.Cache, registry.QueueClient)
	ingredientHandler := queue.NewIngredientHandler(orch, registry.Notes, parser, cfg.Queue.BatchSize)
	instructionHandler := queue.NewInstructionHandler(orch, registry.Notes, parser, cfg.Queue.BatchSize)
	imageHandler := queue.NewImageHandler(orch, registry.Notes, uploader, registry.QueueClient, cfg.Image)
	categorizationHandler := queue.NewCategorizationHandler(orch, registry.Notes, service.NewKeywordCategorizer(), registry.Cache)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				queue.QueueNotes:          5,
				queue.QueueIngredients:    4,
				queue.QueueInstructions:   4,
				queue.QueueImages:         3,
				queue.QueueCategorization: 3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				var jobErr *domain.JobError
				fields := map[string]interface{}{
					"task_type": task.Type(),
					"error":     err.Error(),
				}
				if errors.As(err, &jobErr) {
					fields["kind"] = string(jobErr.Kind)
					fields["severity"] = string(jobErr.Severity)
				}
				log.Error(ctx, "task execution failed", err, fields)
			}),
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return registry.Errors.Backoff(n)
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNoteCreate, noteHandler.ProcessTask)
	mux.HandleFunc(queue.TypeIngredientParse, ingredientHandler.ProcessTask)
	mux.HandleFunc(queue.TypeInstructionParse, instructionHandler.ProcessTask)
	mux.HandleFunc(queue.TypeImageProcess, imageHandler.ProcessTask)
	mux.HandleFunc(queue.TypeCategorize, categorizationHandler.ProcessTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatal(ctx, "Worker server failed", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Shutting down worker server...", nil)
	srv.Shutdown()
	log.Info(ctx, "Worker server exited gracefully", nil)
}
