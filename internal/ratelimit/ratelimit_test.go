package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bursar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

type scriptedRedis struct {
	redis.Scripter
	replies []*redis.Cmd
	keys    [][]string
	args    [][]interface{}
}

func (s *scriptedRedis) EvalSha(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	s.keys = append(s.keys, keys)
	s.args = append(s.args, args)
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply
}

func TestWriteLimiterAllowsThenThrottles(t *testing.T) {
	fake := &scriptedRedis{replies: []*redis.Cmd{
		redis.NewCmdResult([]interface{}{int64(1), "0.5", int64(1717318800000)}, nil),
		redis.NewCmdResult([]interface{}{int64(0), "0.5", int64(1717318800100)}, nil),
	}}
	limiter := NewWriteLimiterWithBucket(NewTokenBucket(fake), 2, 1)

	first, err := limiter.AllowActor(context.Background(), " clerk-7 ")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Limit)
	assert.Zero(t, first.RetryAfter)

	second, err := limiter.AllowActor(context.Background(), "clerk-7")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, 250*time.Millisecond, second.RetryAfter)

	require.Len(t, fake.keys, 2)
	assert.Equal(t, []string{"bursar:ratelimit:write:clerk-7"}, fake.keys[0])
	assert.Equal(t, []interface{}{float64(2), 1, int64(1000)}, fake.args[0])
}

func TestWriteLimiterPropagatesRedisErrors(t *testing.T) {
	fake := &scriptedRedis{replies: []*redis.Cmd{
		redis.NewCmdResult(nil, errors.New("connection refused")),
		redis.NewCmdResult([]interface{}{int64(1)}, nil),
	}}
	limiter := NewWriteLimiterWithBucket(NewTokenBucket(fake), 1, 5)

	_, err := limiter.AllowActor(context.Background(), "clerk-7")
	assert.EqualError(t, err, "connection refused")

	_, err = limiter.AllowActor(context.Background(), "clerk-7")
	assert.EqualError(t, err, "invalid rate limit script response")

	_, err = limiter.AllowActor(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestDisabledLimiterAllows(t *testing.T) {
	var limiter *WriteLimiter
	assert.False(t, limiter.Enabled())

	result, err := limiter.AllowActor(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	var bucket *TokenBucket
	_, err = bucket.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, NewTokenBucket(nil))
}

func TestTokenBucketRejectsBadInput(t *testing.T) {
	bucket := NewTokenBucket(&scriptedRedis{})

	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = bucket.Allow(context.Background(), "k", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestNewWriteLimiterFromConfig(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	limiter, err := NewWriteLimiter(lc, config.Config{})
	require.NoError(t, err)
	assert.Nil(t, limiter)

	_, err = NewWriteLimiter(lc, config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 1, WriteBurst: 1}})
	assert.Error(t, err)

	_, err = NewWriteLimiter(lc, config.Config{
		Redis:     config.RedisConfig{Addr: "localhost:6379"},
		RateLimit: config.RateLimitConfig{Enabled: true},
	})
	assert.ErrorIs(t, err, ErrInvalidRate)

	limiter, err = NewWriteLimiter(lc, config.Config{
		Redis:     config.RedisConfig{Addr: "localhost:6379"},
		RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 5, WriteBurst: 20},
	})
	require.NoError(t, err)
	assert.True(t, limiter.Enabled())
}

func TestBucketHelpers(t *testing.T) {
	assert.Equal(t, 8*time.Second, bucketTTL(5, 20))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))

	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, time.Second, retryAfter(false, 0, 1))

	assert.Equal(t, int64(3), castToInt("3"))
	assert.Equal(t, int64(2), castToInt(2.9))
	assert.Equal(t, 0.25, castToFloat("0.25"))
	assert.Equal(t, float64(4), castToFloat(int64(4)))
	assert.Zero(t, castToFloat(nil))
}
