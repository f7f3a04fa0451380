// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/typerace/internal/config"
	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) finished races are pushed onto.
const DefaultQueueName = "typerace_results"

// Connect opens a Redis client from cfg and verifies it with a PING.
func Connect(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

// ResultQueue pushes finished race results onto a Redis list for the historian.
type ResultQueue struct {
	rdb  *redis.Client
	name string
}

// NewResultQueue returns a queue publisher. An empty name means DefaultQueueName.
func NewResultQueue(rdb *redis.Client, name string) *ResultQueue {
	if name == "" {
		name = DefaultQueueName
	}
	return &ResultQueue{rdb: rdb, name: name}
}

// Name returns the Redis list the queue writes to.
func (q *ResultQueue) Name() string { return q.name }

// PublishRaceResult serializes the result to JSON, then pushes it to the Redis queue.
// This does not block the calling logic (other than a quick network send).
func (q *ResultQueue) PublishRaceResult(ctx context.Context, result models.RaceResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal RaceResult: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}
