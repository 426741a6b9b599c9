package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "discovery:pace:"
	minPollInterval    = 5 * time.Millisecond
)

type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	PTTL(ctx context.Context, key string) (time.Duration, error)
}

type redisClient struct {
	client *redis.Client
}

func NewRedisClient(host, port string) RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port),
	})
	return &redisClient{client: rdb}
}

func (r *redisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failure: %w", err)
	}
	return ok, nil
}

func (r *redisClient) PTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl failure: %w", err)
	}
	return ttl, nil
}

// RedisRateLimiter paces requests per provider across every worker sharing
// the same Redis. Holding the key for one interval is holding the slot.
type RedisRateLimiter struct {
	client          RedisClient
	defaultInterval time.Duration
	intervals       map[string]time.Duration
}

func NewRedisRateLimiter(client RedisClient, defaultInterval time.Duration, perProvider map[string]time.Duration) *RedisRateLimiter {
	intervals := make(map[string]time.Duration, len(perProvider))
	for k, v := range perProvider {
		intervals[k] = v
	}
	return &RedisRateLimiter{client: client, defaultInterval: defaultInterval, intervals: intervals}
}

func (l *RedisRateLimiter) interval(provider string) time.Duration {
	if d, ok := l.intervals[provider]; ok {
		return d
	}
	return l.defaultInterval
}

func (l *RedisRateLimiter) Wait(ctx context.Context, provider string) error {
	interval := l.interval(provider)
	if interval <= 0 {
		return nil
	}
	key := rateLimitKeyPrefix + provider

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		acquired, err := l.client.SetNX(ctx, key, 1, interval)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		wait, err := l.client.PTTL(ctx, key)
		if err != nil {
			return err
		}
		if wait < minPollInterval {
			wait = minPollInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
