package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/orchids/recipe-pipeline/internal/app"
	"github.com/orchids/recipe-pipeline/internal/config"
	"github.com/orchids/recipe-pipeline/internal/domain"
	"github.com/orchids/recipe-pipeline/internal/queue"
	"github.com/orchids/recipe-pipeline/internal/ratelimit"
	"github.com/orchids/recipe-pipeline/internal/service"
	"github.com/orchids/recipe-pipeline/internal/telemetry"
	"github.com/orchids/recipe-pipeline/internal/websocket"
	"github.com/orchids/recipe-pipeline/pkg/logger"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Environment, cfg.LogLevel)
	log.Info(context.Background(), "Starting recipe pipeline API", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
	})

	hub := websocket.NewHub(log)

	// Status events raised inside API handlers go straight to connected
	// observers; worker events arrive over the redis relay below.
	registry, err := app.New(context.Background(), cfg, log, func(*redis.Client) service.Broadcaster {
		return hub
	})
	if err != nil {
		log.Fatal(context.Background(), "Failed to wire services", err, nil)
	}
	defer registry.Close(context.Background())

	registry.Start(context.Background())

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relay := service.NewRedisBroadcaster(registry.Redis, cfg.Queue.StatusChannel)
	go func() {
		if err := relay.Subscribe(relayCtx, hub.Send); err != nil && relayCtx.Err() == nil {
			log.Error(relayCtx, "status relay stopped", err, nil)
		}
	}()

	limiter := ratelimit.New(registry.Redis, cfg.RateLimit.Threshold, cfg.RateLimit.Window)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		report := registry.Monitor.GenerateHealthReport(c.Request.Context())
		status := http.StatusOK
		if report.Status == domain.HealthUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})

	router.GET("/metrics", gin.WrapH(telemetry.Handler()))

	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn(c.Request.Context(), "websocket upgrade failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		hub.AddClient(conn)
	})

	api := router.Group("/api/v1")
	api.Use(rateLimitMiddleware(limiter, log))
	{
		api.POST("/import", importHandler(registry, log))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info(context.Background(), "HTTP server starting", map[string]interface{}{
			"address": cfg.Server.Address(),
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(context.Background(), "Failed to start server", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(context.Background(), "Shutting down server...", nil)
	stopRelay()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(context.Background(), "Server forced to shutdown", err, nil)
	}

	log.Info(context.Background(), "Server exited gracefully", nil)
}

type importRequest struct {
	Content string `json:"content" binding:"required"`
	Source  string `json:"source"`
}

func importHandler(registry *app.Registry, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}

		importID := uuid.New()
		payload := queue.NotePayload{
			ImportID: importID,
			Content:  req.Content,
			Source:   req.Source,
		}
		if err := registry.QueueClient.EnqueueNoteCreate(c.Request.Context(), payload); err != nil {
			log.Error(c.Request.Context(), "failed to enqueue import", err, map[string]interface{}{
				"import_id": importID.String(),
			})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept import"})
			return
		}

		log.Info(c.Request.Context(), "import accepted", map[string]interface{}{
			"import_id": importID.String(),
		})
		c.JSON(http.StatusAccepted, gin.H{
			"importId": importID.String(),
			"status":   string(domain.StatusPending),
		})
	}
}

func rateLimitMiddleware(limiter *ratelimit.Limiter, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn(c.Request.Context(), "rate limiter unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
