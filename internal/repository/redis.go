package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkinsync/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the TTL only if the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ErrLockLost is returned by Extend when the hold expired or was taken over.
var ErrLockLost = errors.New("sync lock no longer held")

// RedisRunLock is a single-flight lock shared by every process pointed at the same Redis.
// The TTL bounds how long a crashed holder can block other instances; a live
// holder keeps it with Extend.
type RedisRunLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewRedisRunLock(client *redis.Client, key string, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{
		client: client,
		key:    key,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

func (l *RedisRunLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.client == nil {
		return false, errors.New("redis client is nil")
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	return ok, nil
}

func (l *RedisRunLock) Release(ctx context.Context) error {
	if l.client == nil {
		return errors.New("redis client is nil")
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

func (l *RedisRunLock) Extend(ctx context.Context) error {
	if l.client == nil {
		return errors.New("redis client is nil")
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to extend sync lock: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}
