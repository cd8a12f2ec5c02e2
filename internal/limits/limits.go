// Package limits provides a Redis fixed-window rate limiter that fences
// the spend endpoints (session starts, topups).
package limits

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	appctx "github.com/lunaria-live/lunaria/internal/context"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

// LuaFixedWindow counts one hit in the current window, starting the
// window on the first hit.
//
// KEYS[1] = rl:{action}:{accountID}
// ARGV[1] = window (seconds)
//
// Returns: hit count inside the current window.
const LuaFixedWindow = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`

// Limiter is a per-account, per-action fixed-window counter.
type Limiter struct {
	rdb *redis.Client
	log *logger.Logger

	windowScript *redis.Script
}

// NewLimiter creates the limiter and loads its script.
func NewLimiter(rdb *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{
		rdb:          rdb,
		log:          log,
		windowScript: redis.NewScript(LuaFixedWindow),
	}
}

// Allow counts one hit against the account's window and reports whether
// it fits the limit. Redis errors fail open and are logged.
func (l *Limiter) Allow(ctx context.Context, action, accountID string, limit int, window time.Duration) bool {
	key := model.RateKey(action, accountID)
	n, err := l.windowScript.Run(ctx, l.rdb, []string{key}, int(window.Seconds())).Int64()
	if err != nil {
		l.log.Warnf("rate limiter %s: %v", action, err)
		return true
	}
	return n <= int64(limit)
}

// Middleware enforces the limit on an authenticated route.
func (l *Limiter) Middleware(action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := appctx.MustGetAccount(c)
		if !l.Allow(c.Request.Context(), action, acct.ID, limit, window) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, retry later",
			})
			return
		}
		c.Next()
	}
}
