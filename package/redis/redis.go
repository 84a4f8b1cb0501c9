package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by reads of a missing key.
var ErrNotFound = errors.New("redis: key not found")

type RedisConfig struct {
	Address  string
	Password string
	Database int
}

type HealthStatus struct {
	Connected bool          `json:"connected"`
	Address   string        `json:"address"`
	Database  int           `json:"database"`
	Keys      int64         `json:"keys"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

type RedisService interface {
	HealthCheck(ctx context.Context) HealthStatus
	GetClient() *redis.Client
	Close() error

	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	GetBytes(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...interface{}) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SRemove(ctx context.Context, key string, members ...interface{}) (int64, error)

	Ping(ctx context.Context) error
}

type RedisClient struct {
	client *redis.Client
	config RedisConfig
	mu     sync.RWMutex
}

func NewRedisService(config RedisConfig) (*RedisClient, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            config.Address,
		Password:        config.Password,
		DB:              config.Database,
		PoolSize:        10,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     10 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client: rdb,
		config: config,
	}, nil
}

// NewFromClient wraps an existing go-redis client without pinging it.
func NewFromClient(client *redis.Client) *RedisClient {
	opts := client.Options()
	return &RedisClient{
		client: client,
		config: RedisConfig{Address: opts.Addr, Database: opts.DB},
	}
}

func (r *RedisClient) HealthCheck(ctx context.Context) HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{
		Address:  r.config.Address,
		Database: r.config.Database,
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		status.Latency = time.Since(start)
		return status
	}
	status.Connected = true

	size, err := r.client.DBSize(ctx).Result()
	if err != nil {
		status.Error = fmt.Sprintf("database access failed: %v", err)
	}
	status.Keys = size
	status.Latency = time.Since(start)

	return status
}

func (r *RedisClient) GetClient() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *RedisClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.SetNX(ctx, key, value, expiration).Result()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return result, err
}

func (r *RedisClient) GetBytes(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return result, err
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisClient) Exists(ctx context.Context, keys ...string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Exists(ctx, keys...).Result()
}

func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.TTL(ctx, key).Result()
}

func (r *RedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.Expire(ctx, key, expiration).Err()
}

func (r *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.Incr(ctx, key).Result()
}

func (r *RedisClient) SAdd(ctx context.Context, key string, members ...interface{}) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.SAdd(ctx, key, members...).Result()
}

func (r *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.SMembers(ctx, key).Result()
}

func (r *RedisClient) SRemove(ctx context.Context, key string, members ...interface{}) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.SRem(ctx, key, members...).Result()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.client.Ping(ctx).Err()
}
