package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"auditagent/internal/audit"
	"auditagent/internal/events"
	"auditagent/internal/generation"
	"auditagent/internal/jobs"
	"auditagent/internal/platform/config"
	"auditagent/internal/platform/kafka"
	"auditagent/internal/platform/metrics"
	"auditagent/internal/platform/redis"
)

// Breaker settings for the generation backend.
const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

func newGenerationClient(cfg config.Generation, logger *slog.Logger, m *metrics.Metrics) (*generation.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	backend := generation.NewOpenAIBackend(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	return generation.NewClient(backend, logger,
		generation.WithBreaker(generation.NewBreaker(breakerThreshold, breakerCooldown)),
		generation.WithMetrics(m),
	), nil
}

func newAuditor(cfg config.Audit, gen audit.Generator, logger *slog.Logger) *audit.Auditor {
	return audit.New(gen, logger,
		audit.WithMode(audit.ParseMode(cfg.Mode)),
		audit.WithPolicy(audit.Policy{
			MaxIterations:            cfg.MaxIterations,
			StopAfterEmptyIterations: cfg.StopAfterEmptyIterations,
		}),
		audit.WithObserver(func(taskID string, iteration int, state audit.State) {
			logger.Debug("audit state", "task_id", taskID, "iteration", iteration, "state", state)
		}),
	)
}

// newQueue returns a Redis-backed queue when REDIS_URL is set and an
// in-process queue otherwise. closeFn releases the Redis connection.
func newQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (jobs.Queue, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	if client == nil {
		logger.Info("using in-memory job queue", "size", cfg.Jobs.QueueSize)
		return jobs.NewMemoryQueue(cfg.Jobs.QueueSize), func() {}, nil
	}
	logger.Info("using redis job queue", "key", cfg.Redis.QueueKey)
	q := jobs.NewRedisQueue(client.Client, cfg.Redis.QueueKey, jobs.WithMaxLen(cfg.Jobs.QueueSize))
	return q, func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}, nil
}

// newPublisher publishes lifecycle events to Kafka when brokers are
// configured. A broker that cannot be reached at startup degrades to the
// log publisher.
func newPublisher(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) events.Publisher {
	producer, err := kafka.NewProducer(ctx, cfg)
	switch {
	case errors.Is(err, kafka.ErrNotConfigured):
		return events.NewLogPublisher(logger)
	case err != nil:
		logger.Warn("kafka unavailable, task events go to the log", "error", err)
		return events.NewLogPublisher(logger)
	}
	logger.Info("publishing task events to kafka", "topic", producer.Topic())
	return events.NewKafkaPublisher(producer, producer.Close, logger)
}
