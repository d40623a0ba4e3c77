package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisLocker builds a locker. Keys are stored as prefix + key.
func NewRedisLocker(rdb redis.UniversalClient, prefix string) (*RedisLocker, error) {
	if rdb == nil {
		return nil, errors.New("locks: redis client is required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix}, nil
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return nil, errors.New("locks: ttl must be positive")
	}
	name := l.prefix + key
	token := newToken()
	ok, err := l.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("locks: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{rdb: l.rdb, name: name, token: token}, nil
}

// Ping checks connectivity for readiness probes.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

type redisLease struct {
	rdb   redis.UniversalClient
	name  string
	token string
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.rdb, []string{r.name}, r.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("locks: release %s: %w", r.name, err)
	}
	return nil
}
