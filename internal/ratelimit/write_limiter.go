package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/bursar/internal/config"
	"go.uber.org/fx"
)

const keyWriteActor = "bursar:ratelimit:write:%s"

// WriteLimiter caps how fast one actor can post collections, cancellations
// and assignments.
type WriteLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewWriteLimiter returns nil when rate limiting is off.
func NewWriteLimiter(lc fx.Lifecycle, cfg config.Config) (*WriteLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if !cfg.Redis.Enabled() {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.WriteRate <= 0 || limitCfg.WriteBurst <= 0 {
		return nil, ErrInvalidRate
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(cfg.Redis.Addr),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return NewWriteLimiterWithBucket(NewTokenBucket(client), limitCfg.WriteRate, limitCfg.WriteBurst), nil
}

func NewWriteLimiterWithBucket(bucket *TokenBucket, rate float64, burst int) *WriteLimiter {
	return &WriteLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *WriteLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowActor takes a token from the actor's bucket. A disabled limiter always allows.
func (l *WriteLimiter) AllowActor(ctx context.Context, actorID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return &Result{}, ErrEmptyKey
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWriteActor, actorID), l.rate, l.burst)
}
