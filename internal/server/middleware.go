package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/bursar/internal/observability/context"
	obslogger "github.com/smallbiznis/bursar/internal/observability/logger"
	"github.com/smallbiznis/bursar/internal/ratelimit"
	"go.uber.org/zap"
)

// ActorRequired rejects ledger writes that do not carry the upstream actor header.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(obscontext.ActorIDFromContext(c.Request.Context()))
		if actor == "" {
			actor = strings.TrimSpace(c.GetHeader(obslogger.ActorHeader))
		}
		if actor == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Request = c.Request.WithContext(obscontext.WithActorID(c.Request.Context(), actor))
		c.Next()
	}
}

type writeLimiter interface {
	AllowActor(ctx context.Context, actorID string) (*ratelimit.Result, error)
}

// WriteRateLimit throttles ledger writes per actor. It must run after ActorRequired.
func (s *Server) WriteRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.writeLimiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.writeLimiter.AllowActor(ctx, obscontext.ActorIDFromContext(ctx))
		if err != nil {
			obslogger.FromContext(ctx).Warn("write rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			retry := int(math.Ceil(result.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			obslogger.FromContext(ctx).Warn("write rate limit exceeded",
				zap.String("route", c.FullPath()),
				zap.Int("retry_after_seconds", retry),
			)
			c.Header("Retry-After", strconv.Itoa(retry))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
