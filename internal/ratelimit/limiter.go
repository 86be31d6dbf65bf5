// Package ratelimit provides a redis-backed fixed-window limiter (INCR + EXPIRE).
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the redis key prefix, maximum number
// of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Limiter performs rate limiting checks against redis. A nil *Limiter
// allows everything.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{client: client, logger: logger.With(zap.String("component", "ratelimit"))}
}

// Allow increments the counter of identifier under rule and reports whether
// the request is within the limit. Redis errors fail open.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil || rule.Limit <= 0 {
		return true
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// Ключ без TTL заблокував би користувача назавжди.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
