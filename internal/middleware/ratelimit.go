package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/util"
)

// Limiter is a sliding-window rate limiter over Redis sorted sets: one
// zset per (scope, principal), members scored by request time. Counting
// evicts entries older than the window, so bursts at a bucket boundary
// cannot double the allowance the way fixed windows do.
type Limiter struct {
	rdb *cache.RedisClient
}

func NewLimiter(rdb *cache.RedisClient) *Limiter {
	return &Limiter{rdb: rdb}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Allow records one request for (scope, id) and reports whether it fits
// the window.
func (l *Limiter) Allow(ctx context.Context, scope, id string, limit int, window time.Duration) (*Decision, error) {
	key := models.KeyRateLimit(scope, id, window.String())
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	if err := l.rdb.ZRemRangeByScore(ctx, key, "-inf", cutoff); err != nil {
		return nil, err
	}
	count, err := l.rdb.ZCard(ctx, key)
	if err != nil {
		return nil, err
	}

	d := &Decision{Limit: limit, ResetAt: now.Add(window)}
	if int(count) >= limit {
		d.Allowed = false
		d.Remaining = 0
		// The window reopens when the oldest tracked request ages out.
		if oldest, err := l.rdb.ZRangeWithScores(ctx, key, 0, 0); err == nil && len(oldest) == 1 {
			openAt := time.UnixMilli(int64(oldest[0].Score)).Add(window)
			d.RetryAfter = time.Until(openAt)
			d.ResetAt = openAt
		}
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
		return d, nil
	}

	if err := l.rdb.ZAdd(ctx, key, float64(now.UnixMilli()), uuid.NewString()); err != nil {
		return nil, err
	}
	if err := l.rdb.Expire(ctx, key, window+time.Minute); err != nil {
		return nil, err
	}
	d.Allowed = true
	d.Remaining = limit - int(count) - 1
	return d, nil
}

func writeRateLimitHeaders(c *gin.Context, d *Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func enforce(c *gin.Context, l *Limiter, layer, scope, id string, limit int, window time.Duration) bool {
	if limit <= 0 || id == "" {
		return true
	}
	d, err := l.Allow(c.Request.Context(), scope, id, limit, window)
	if err != nil {
		// A broken limiter must not take the API down with it.
		return true
	}
	writeRateLimitHeaders(c, d)
	if !d.Allowed {
		retry := int(d.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       string(apperrors.ErrRateLimited),
			"layer":       layer,
			"retry_after": retry,
		})
		c.Abort()
		return false
	}
	return true
}

// IPLimit throttles by client address. Outermost layer; it runs before
// tenant resolution so unauthenticated floods die here.
func IPLimit(l *Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enforce(c, l, "ip", "ip", c.ClientIP(), limit, window) {
			return
		}
		c.Next()
	}
}

// SiteLimit throttles by tenant, honoring the site's per-minute override.
func SiteLimit(l *Limiter, defaultLimit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		site, ok := util.SiteFromContext(c)
		if !ok {
			c.Next()
			return
		}
		limit := defaultLimit
		if site.Settings.RateLimits.RequestsPerMinute > 0 {
			limit = site.Settings.RateLimits.RequestsPerMinute
		}
		if !enforce(c, l, "apikey", "apikey", site.ID, limit, window) {
			return
		}
		c.Next()
	}
}

// UserWriteLimit throttles write actions per user. The action selects the
// site override: "comments" or "votes".
func UserWriteLimit(l *Limiter, action string, defaultLimit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultLimit
		if site, ok := util.SiteFromContext(c); ok {
			switch action {
			case "comments":
				if n := site.Settings.RateLimits.CommentsPerMinute; n > 0 {
					limit = n
				}
			case "votes":
				if n := site.Settings.RateLimits.VotesPerMinute; n > 0 {
					limit = n
				}
			}
		}
		id := c.ClientIP()
		if user, ok := util.UserFromContext(c); ok {
			id = user.ID
		}
		if !enforce(c, l, "user", "user:"+action, id, limit, window) {
			return
		}
		c.Next()
	}
}
