// Package ratelimit implements a sliding-window request limiter backed
// by a Redis sorted set, exposed as a gin middleware. It guards the
// handshake endpoint: rate limiting is HTTP-pipeline glue the core
// library stays out of, but a real deployment fronting the handshake
// GET with clients that can flood-reconnect needs one, and it's exactly
// the kind of ambient concern the demo app layers on top.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter checks a sliding window of at most limit events per window for
// a given key, both supplied per call to Allow.
type Limiter struct {
	client *redis.Client
}

func New(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow reports whether another event is permitted under key within the
// trailing window. Every attempt is recorded, including denied ones, so
// denied attempts also count against later calls.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() < int64(limit), nil
}

// GinByIP rate-limits an endpoint per client IP, used in front of the
// handshake GET/POST since a pre-handshake request has no uid yet to key
// on.
func GinByIP(l *Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:ip:%s:%s", c.ClientIP(), c.FullPath())
		allowed, err := l.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limit check failed"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
