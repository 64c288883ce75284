package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Host            string
	Port            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

type RedisConfig struct {
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

type QueueConfig struct {
	BatchSize     int
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	JobTimeout    time.Duration
	Concurrency   int
	StatusChannel string
}

type MonitorConfig struct {
	HealthCheckInterval  time.Duration
	QueueMetricsInterval time.Duration
	JobHistoryMaxAge     time.Duration
	JobHistoryMaxEntries int
	PruneInterval        time.Duration
}

type RateLimitConfig struct {
	Window    time.Duration
	Threshold int
}

type ImageConfig struct {
	OutputDir     string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
	MaxBytes      int64
	ThumbnailSize int
	JPEGQuality   int
}

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Monitor   MonitorConfig
	RateLimit RateLimitConfig
	Image     ImageConfig
	LogLevel  string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnv("SERVER_PORT", "8080"),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "recipe_pipeline"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectTimeout:  getDurationEnv("DB_CONNECT_TIMEOUT", 10*time.Second),
			QueryTimeout:    getDurationEnv("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			PoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: getIntEnv("REDIS_MIN_IDLE_CONNS", 2),
		},
		Queue: QueueConfig{
			BatchSize:     getIntEnv("QUEUE_BATCH_SIZE", 10),
			MaxRetries:    getIntEnv("QUEUE_MAX_RETRIES", 3),
			BackoffBase:   getDurationEnv("QUEUE_BACKOFF_BASE", 1*time.Second),
			BackoffMax:    getDurationEnv("QUEUE_BACKOFF_MAX", 30*time.Second),
			JobTimeout:    getDurationEnv("QUEUE_JOB_TIMEOUT", 10*time.Minute),
			Concurrency:   getIntEnv("QUEUE_CONCURRENCY", 10),
			StatusChannel: getEnv("QUEUE_STATUS_CHANNEL", "status:events"),
		},
		Monitor: MonitorConfig{
			HealthCheckInterval:  getDurationEnv("MONITOR_HEALTH_CHECK_INTERVAL", 30*time.Second),
			QueueMetricsInterval: getDurationEnv("MONITOR_QUEUE_METRICS_INTERVAL", 15*time.Second),
			JobHistoryMaxAge:     getDurationEnv("MONITOR_JOB_HISTORY_MAX_AGE", 1*time.Hour),
			JobHistoryMaxEntries: getIntEnv("MONITOR_JOB_HISTORY_MAX_ENTRIES", 1000),
			PruneInterval:        getDurationEnv("MONITOR_PRUNE_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Window:    getDurationEnv("RATE_LIMIT_WINDOW", 1*time.Minute),
			Threshold: getIntEnv("RATE_LIMIT_THRESHOLD", 120),
		},
		Image: ImageConfig{
			OutputDir:     getEnv("IMAGE_OUTPUT_DIR", "./data/images"),
			S3Bucket:      getEnv("IMAGE_S3_BUCKET", ""),
			S3Region:      getEnv("IMAGE_S3_REGION", "us-east-1"),
			S3Endpoint:    getEnv("IMAGE_S3_ENDPOINT", ""),
			S3PathStyle:   getBoolEnv("IMAGE_S3_PATH_STYLE", false),
			MaxBytes:      getInt64Env("IMAGE_MAX_BYTES", 25*1024*1024),
			ThumbnailSize: getIntEnv("IMAGE_THUMBNAIL_SIZE", 320),
			JPEGQuality:   getIntEnv("IMAGE_JPEG_QUALITY", 85),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate collects every violation so startup reports the full set at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port == "" {
		problems = append(problems, "server port is required")
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		problems = append(problems, "database configuration is incomplete")
	}
	if c.Database.MaxOpenConns <= 0 {
		problems = append(problems, "DB_MAX_OPEN_CONNS must be positive")
	}
	if c.Redis.Host == "" || c.Redis.Port == "" {
		problems = append(problems, "redis host and port are required")
	}
	if c.Queue.BatchSize <= 0 {
		problems = append(problems, "QUEUE_BATCH_SIZE must be positive")
	}
	if c.Queue.MaxRetries < 0 {
		problems = append(problems, "QUEUE_MAX_RETRIES must not be negative")
	}
	if c.Queue.BackoffBase <= 0 || c.Queue.BackoffMax < c.Queue.BackoffBase {
		problems = append(problems, "queue backoff bounds are invalid")
	}
	if c.Queue.Concurrency <= 0 {
		problems = append(problems, "QUEUE_CONCURRENCY must be positive")
	}
	if c.Monitor.JobHistoryMaxEntries <= 0 {
		problems = append(problems, "MONITOR_JOB_HISTORY_MAX_ENTRIES must be positive")
	}
	if c.RateLimit.Threshold <= 0 {
		problems = append(problems, "RATE_LIMIT_THRESHOLD must be positive")
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		problems = append(problems, "IMAGE_JPEG_QUALITY must be between 1 and 100")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
