package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock records, per key, the earliest time the next call may start. Every
// poster to the same channel consults the same clock.
type Clock interface {
	NotBefore(ctx context.Context, key string) (time.Time, error)
	Hold(ctx context.Context, key string, until time.Time) error
}

// MemoryClock is a process-local Clock.
type MemoryClock struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func NewMemoryClock() *MemoryClock {
	return &MemoryClock{until: make(map[string]time.Time)}
}

func (c *MemoryClock) NotBefore(_ context.Context, key string) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.until[key], nil
}

// Hold never moves a key's time backwards.
func (c *MemoryClock) Hold(_ context.Context, key string, until time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.until[key]) {
		c.until[key] = until
	}
	return nil
}

// RedisClock shares backoff across replicas. Keys expire when the hold ends.
type RedisClock struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisClock(client *redis.Client) *RedisClock {
	return &RedisClock{client: client, prefix: "nestbot:chat:backoff:", now: time.Now}
}

// NewRedisClockFromURL parses a redis:// URL.
func NewRedisClockFromURL(redisURL string) (*RedisClock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisClock(redis.NewClient(opts)), nil
}

func (c *RedisClock) NotBefore(ctx context.Context, key string) (time.Time, error) {
	ms, err := c.client.Get(ctx, c.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read backoff clock: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (c *RedisClock) Hold(ctx context.Context, key string, until time.Time) error {
	current, err := c.NotBefore(ctx, key)
	if err != nil {
		return err
	}
	if !until.After(current) {
		return nil
	}

	ttl := until.Sub(c.now())
	if ttl <= 0 {
		return nil
	}

	err = c.client.Set(ctx, c.prefix+key, strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to hold backoff clock: %w", err)
	}
	return nil
}

func (c *RedisClock) Close() error {
	return c.client.Close()
}
