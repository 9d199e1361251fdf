package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript makes increment and first-expiry one atomic step so a crash
// between them cannot leave a counter without TTL.
var incrScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 and tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

var decrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local v = redis.call('DECR', KEYS[1])
if v <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
return v
`)

// KEYS[1] is the guard key; it is deleted along with the rest.
var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('DEL', unpack(KEYS))
return 1
`)

// Redis is a Store shared by every replica pointing at the same server.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key, e.g. "inkwell".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = strings.Trim(prefix, ":") }
}

func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, prefix: "inkwell"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *Redis) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrScript.Run(ctx, r.rdb, []string{r.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return v, nil
}

func (r *Redis) Get(ctx context.Context, key string) (int64, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get", err)
	}
	return v, true, nil
}

func (r *Redis) SetWithTTL(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (r *Redis) Decr(ctx context.Context, key string) (int64, error) {
	v, err := decrScript.Run(ctx, r.rdb, []string{r.key(key)}).Int64()
	if err != nil {
		return 0, unavailable("decr", err)
	}
	return v, nil
}

func (r *Redis) CompareAndDelete(ctx context.Context, guard string, want int64, keys ...string) (bool, error) {
	full := make([]string, 0, len(keys)+1)
	full = append(full, r.key(guard))
	for _, k := range keys {
		full = append(full, r.key(k))
	}
	n, err := compareAndDeleteScript.Run(ctx, r.rdb, full, strconv.FormatInt(want, 10)).Int64()
	if err != nil {
		return false, unavailable("cas delete", err)
	}
	return n == 1, nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.rdb.Del(ctx, full...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
