package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingLogScript keeps one sorted-set member per access, scored by its
// timestamp in microseconds. Scores are passed pre-computed so no number
// formatting happens inside Lua. Returns the number of accesses in the
// window, the new one included.
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[3])
return redis.call('ZCARD', key)
`)

// RedisStore shares one access log across gateway replicas.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store on key under the "gw:rl:" prefix.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	return &RedisStore{client: client, key: "gw:rl:" + key}
}

// Key returns the Redis key holding the log.
func (s *RedisStore) Key() string {
	return s.key
}

// Record implements Store.
func (s *RedisStore) Record(ctx context.Context, clock func() time.Time, window time.Duration) (int, error) {
	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	nowUs := clock().UnixMicro()
	member := fmt.Sprintf("%d-%s", nowUs, uuid.NewString())

	n, err := slidingLogScript.Run(ctx, s.client,
		[]string{s.key},
		strconv.FormatInt(nowUs, 10),
		strconv.FormatInt(nowUs-window.Microseconds(), 10),
		strconv.FormatInt(ttl, 10),
		member,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis sliding log %s: %w", s.key, err)
	}
	return n, nil
}
