// Package ratelimit throttles intent API calls with fixed-window counters.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter 判断 key 在当前窗口内是否还有配额
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisLimiter 基于 INCR + EXPIRE 的固定窗口计数，多个进程共享同一配额
type RedisLimiter struct {
	client   *redis.Client
	logger   *zap.Logger
	failOpen bool
	now      func() time.Time
}

// NewRedisLimiter creates a limiter on client. With failOpen set, requests are
// allowed while Redis is unreachable.
func NewRedisLimiter(client *redis.Client, logger *zap.Logger, failOpen bool) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, logger: logger, failOpen: failOpen, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	bucket := BucketKey(key, l.now(), window)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incr.Val()
	if count > int64(limit) {
		l.logger.Debug("rate limit exceeded", zap.String("key", key), zap.Int64("count", count), zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

// MemoryLimiter 单进程内的固定窗口计数，未配置 Redis 时使用
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]int
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]int), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	now := l.now()
	bucket := BucketKey(key, now, window)

	l.mu.Lock()
	defer l.mu.Unlock()
	// 丢弃过期窗口
	current := ":" + strconv.FormatInt(windowIndex(now, window), 10)
	for k := range l.buckets {
		if !strings.HasSuffix(k, current) {
			delete(l.buckets, k)
		}
	}
	l.buckets[bucket]++
	return l.buckets[bucket] <= limit, nil
}

// BucketKey names the counter of key for the window containing now.
func BucketKey(key string, now time.Time, window time.Duration) string {
	return "ratelimit:" + key + ":" + strconv.FormatInt(windowIndex(now, window), 10)
}

func windowIndex(now time.Time, window time.Duration) int64 {
	if window <= 0 {
		window = time.Minute
	}
	return now.UnixNano() / int64(window)
}
