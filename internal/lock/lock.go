package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrHeld is returned by Acquire when another holder owns the key.
var ErrHeld = errors.New("lock held")

// Locker guards a key for a bounded time. The returned release func is
// always safe to call.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Nop never blocks. Used when no redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb    *goredis.Client
	prefix string
	token  func() string
}

func NewRedisLocker(rdb *goredis.Client, prefix string, token func() string) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: prefix, token: token}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	full := l.prefix + key
	tok := l.token()
	ok, err := l.rdb.SetNX(ctx, full, tok, ttl).Result()
	if err != nil {
		return func() {}, fmt.Errorf("redis setnx %s: %w", full, err)
	}
	if !ok {
		return func() {}, ErrHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{full}, tok).Err()
	}, nil
}
