package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token, so an expired
// lock taken over by another process is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a cross-process lock built on SET NX PX.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	poll   time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, prefix string, logger *zap.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		poll:   250 * time.Millisecond,
		prefix: prefix,
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := fmt.Sprintf("%s:lock:%s", r.prefix, key)
	token := uuid.NewString()

	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		// The caller's ctx may already be done when the work finished by timeout.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.rdb, []string{k}, token).Err(); err != nil {
			r.logger.Warn("Failed to release redis lock", zap.String("key", k), zap.Error(err))
		}
	}, nil
}
