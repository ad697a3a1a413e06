package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/provider-availability-booking/internal/apperrors"
)

// ErrLockNotAcquired is returned when another request holds the key.
var ErrLockNotAcquired = apperrors.Conflict("resource is currently being modified, please retry")

// KeyLocker guards critical sections with a per-key Redis lock.
type KeyLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

func NewKeyLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *KeyLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &KeyLocker{
		client: client,
		ttl:    ttl,
		prefix: "lock:",
		logger: logger,
	}
}

// WithLock runs fn while holding key. It does not wait: a held key fails with
// ErrLockNotAcquired. fn's context expires with the lock TTL.
func (l *KeyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		// release even if the caller's context is already done
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.release(relCtx, fullKey, token); err != nil {
			l.logger.Warn().Err(err).Str("lock_key", fullKey).Msg("release lock")
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(lockCtx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *KeyLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
