// Package ledger remembers which drafts have already been posted so that
// bulk publishing never posts the same thread twice, even across restarts.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TobiSchelling/threadpilot/internal/config"
)

// RedisLedger records posted drafts as expiring Redis keys.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to the Redis server named by cfg.RedisURL and checks it responds.
func New(ctx context.Context, cfg config.Ledger) (*RedisLedger, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg config.Ledger) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    time.Duration(cfg.TTLDays) * 24 * time.Hour,
	}
}

// Close closes the underlying client.
func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// HasPosted reports whether key was marked as posted.
func (l *RedisLedger) HasPosted(ctx context.Context, key string) (bool, error) {
	exists, err := l.client.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return exists > 0, nil
}

// MarkPosted records key as posted. A zero TTL keeps it forever.
func (l *RedisLedger) MarkPosted(ctx context.Context, key string) error {
	value := time.Now().UTC().Format(time.RFC3339)
	if err := l.client.Set(ctx, l.prefix+key, value, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Forget removes every posted marker under the ledger prefix.
func (l *RedisLedger) Forget(ctx context.Context) (int, error) {
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("error scanning keys: %w", err)
	}

	if len(keys) > 0 {
		if err := l.client.Del(ctx, keys...).Err(); err != nil {
			return 0, fmt.Errorf("error deleting keys: %w", err)
		}
	}
	return len(keys), nil
}
