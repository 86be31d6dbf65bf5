package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, zap.NewNop()), mr
}

func TestAllow_Window(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:msg:", Limit: 2, Window: 10 * time.Second}

	assert.True(t, l.Allow(ctx, "u1", rule))
	assert.True(t, l.Allow(ctx, "u1", rule))
	assert.False(t, l.Allow(ctx, "u1", rule))
	assert.True(t, l.Allow(ctx, "u2", rule), "limits are per identifier")

	assert.Equal(t, 10*time.Second, mr.TTL("rl:msg:u1"))

	mr.FastForward(11 * time.Second)
	assert.True(t, l.Allow(ctx, "u1", rule))
}

func TestAllow_FailOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewLimiter(rdb, zap.NewNop())

	assert.True(t, l.Allow(context.Background(), "u1", Rule{Key: "rl:", Limit: 1, Window: time.Second}))
}

func TestAllow_NilLimiter(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow(context.Background(), "u1", Rule{Limit: 1}))
}
