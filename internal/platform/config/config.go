package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Audit modes.
const (
	AuditModeIterative  = "iterative"
	AuditModeSinglePass = "single-pass"
)

// Config is the immutable process configuration. It is built once in main
// and handed to constructors by value.
type Config struct {
	Server     Server
	Generation Generation
	Arena      Arena
	Audit      Audit
	Jobs       Jobs
	Log        Log
	Redis      RedisConfig
	Kafka      KafkaConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
	// WebhookSecret is compared against X-Webhook-Secret. Empty disables the check.
	WebhookSecret string
}

// Generation configures the text-generation backend.
type Generation struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Arena holds credentials for the upstream task API that serves contracts
// and receives findings.
type Arena struct {
	APIKey          string
	CallbackTimeout time.Duration
	FetchTimeout    time.Duration
}

// Audit configures the orchestrator loop.
type Audit struct {
	Mode                     string
	MaxIterations            int
	StopAfterEmptyIterations int
}

// Jobs configures the background worker pool.
type Jobs struct {
	Workers   int
	QueueSize int
}

// Log configures the process logger.
type Log struct {
	Level string
	File  string
}

// RedisConfig configures the optional Redis-backed job queue.
type RedisConfig struct {
	URL          string
	QueueKey     string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the optional lifecycle event publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Default values.
const (
	DefaultAddr            = ":8000"
	DefaultModel           = "o3-mini"
	DefaultMaxIterations   = 10
	DefaultWorkers         = 4
	DefaultQueueSize       = 64
	DefaultCallbackTimeout = 600 * time.Second
	DefaultFetchTimeout    = 60 * time.Second
	DefaultLogFile         = "agent.log"
	DefaultQueueKey        = "auditagent:jobs"
	DefaultKafkaTopic      = "auditagent.task-events"
)

// Load reads an optional .env file and then builds the configuration from
// the environment. Variables already set in the environment win.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:          envString("AGENT_ADDR", DefaultAddr),
			WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		},
		Generation: Generation{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			Model:   envString("OPENAI_MODEL", DefaultModel),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Timeout: envDuration("OPENAI_TIMEOUT", 10*time.Minute),
		},
		Arena: Arena{
			APIKey:          os.Getenv("AGENT4RENA_API_KEY"),
			CallbackTimeout: envDuration("CALLBACK_TIMEOUT", DefaultCallbackTimeout),
			FetchTimeout:    envDuration("FETCH_TIMEOUT", DefaultFetchTimeout),
		},
		Audit: Audit{
			Mode:                     envString("AUDIT_MODE", AuditModeIterative),
			MaxIterations:            envInt("AUDIT_MAX_ITERATIONS", DefaultMaxIterations),
			StopAfterEmptyIterations: envInt("AUDIT_STOP_AFTER_EMPTY", 0),
		},
		Jobs: Jobs{
			Workers:   envInt("WORKER_COUNT", DefaultWorkers),
			QueueSize: envInt("QUEUE_SIZE", DefaultQueueSize),
		},
		Log: Log{
			Level: envString("LOG_LEVEL", "INFO"),
			File:  envString("LOG_FILE", DefaultLogFile),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			QueueKey:     envString("REDIS_QUEUE_KEY", DefaultQueueKey),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", DefaultKafkaTopic),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// envDuration accepts Go durations ("90s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
