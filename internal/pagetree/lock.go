package pagetree

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"go.uber.org/zap"
)

// Advisory per-page write lock. Readers never take it; writers hold it for
// one read-modify-write of the tree document.
const (
	lockTTL         = 5 * time.Second
	lockAttempts    = 6
	lockBaseBackoff = 40 * time.Millisecond
)

// Release must compare the token so an expired holder cannot delete a lock
// someone else has since acquired.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// withPageLock runs fn while holding lock:page:{id}. Contended writers
// retry with bounded exponential backoff; exhaustion maps to 503.
func (e *Engine) withPageLock(ctx context.Context, pageID string, fn func(ctx context.Context) error) error {
	key := models.KeyPageLock(pageID)
	token := uuid.NewString()

	acquired := false
	backoff := lockBaseBackoff
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := e.rdb.SetNX(ctx, key, token, lockTTL)
		if err != nil {
			return apperrors.ServiceUnavailable("page store").WithCause(err)
		}
		if ok {
			acquired = true
			break
		}
		e.lockRetries.Add(1)
		// Jitter avoids retry convoys when many writers contend.
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		select {
		case <-ctx.Done():
			return apperrors.ServiceUnavailable("page store").WithCause(ctx.Err())
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	if !acquired {
		logger.Log.Warn("page lock exhausted",
			logger.WithPageID(pageID),
			zap.Int("attempts", lockAttempts),
		)
		return apperrors.LockContended(pageID)
	}

	defer func() {
		if _, err := e.rdb.Eval(context.WithoutCancel(ctx), unlockScript, []string{key}, token); err != nil {
			// The TTL bounds the damage; log and move on.
			logger.WarnWithFields("page lock release failed", err)
		}
	}()

	return fn(ctx)
}
