package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/queue"
	"github.com/orchids/recipe-pipeline/internal/repository"
	"github.com/orchids/recipe-pipeline/internal/repository/postgres"
	"github.com/orchids/recipe-pipeline/internal/service"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

// Registry is built once at process start and passed into everything that
// needs a shared manager. Orchestrators and the monitor share the same cache,
// connection, and status instances without constructing them themselves.
type Registry struct {
	Config *config.Config
	Logger *logger.Logger

	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Inspector *asynq.Inspector

	Errors     *service.ErrorService
	Cache      *service.CacheService
	Connection *service.ConnectionService
	Status     *service.StatusService
	Monitor    *service.MonitorService

	Notes       repository.NoteRepository
	StatusStore repository.StatusRepository

	QueueClient *queue.QueueClient
}

// New wires the registry. The broadcaster factory decides where status
// events go: the worker publishes to redis, the API pushes straight into its
// hub. It receives the shared redis client because the client does not exist
// before wiring starts.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, makeBroadcaster func(*redis.Client) service.Broadcaster) (*Registry, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := newRedis(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	r := &Registry{
		Config: cfg,
		Logger: log,
		Pool:   pool,
		Redis:  redisClient,
		Inspector: asynq.NewInspector(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}

	r.Errors = service.NewErrorService(log, cfg.Queue.MaxRetries, cfg.Queue.BackoffBase, cfg.Queue.BackoffMax)
	r.Cache = service.NewCacheService(redisClient, log)
	r.Connection = service.NewConnectionService(pool, log, cfg.Queue.MaxRetries, cfg.Queue.BackoffBase)

	r.Notes = postgres.NewPostgresNoteRepository(pool)
	r.StatusStore = postgres.NewPostgresStatusRepository(pool)
	r.Status = service.NewStatusService(r.StatusStore, makeBroadcaster(redisClient), log)
	r.Monitor = service.NewMonitorService(r.Connection, r.Cache, r.Inspector, log, cfg.Monitor)

	r.QueueClient = queue.NewQueueClient(cfg.Redis.Address(), cfg.Queue, log)

	if err := r.Cache.Connect(ctx); err != nil {
		log.Warn(ctx, "starting with cache disconnected", map[string]interface{}{
			"error": err.Error(),
		})
	}
	r.Connection.CheckHealth(ctx)

	return r, nil
}

// Start launches the background loops owned by the managers.
func (r *Registry) Start(ctx context.Context) {
	r.Connection.StartMonitoring(ctx, r.Config.Monitor.HealthCheckInterval)
	r.Monitor.Start(ctx)
}

// Close shuts everything down in reverse dependency order. It always
// completes; failures are logged.
func (r *Registry) Close(ctx context.Context) {
	r.Monitor.Stop()

	if err := r.QueueClient.Close(); err != nil {
		r.Logger.Warn(ctx, "failed to close queue client", map[string]interface{}{
			"error": err.Error(),
		})
	}

	r.Cache.Disconnect(ctx)
	if err := r.Redis.Close(); err != nil {
		r.Logger.Warn(ctx, "failed to close redis client", map[string]interface{}{
			"error": err.Error(),
		})
	}

	r.Connection.Shutdown(ctx)
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.Database.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.Database.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

func newRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return client, nil
}
