package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// putIfVersionScript performs the conditional write atomically on the
// server.  Each record is a hash with "version" and "value" fields.
// Returns -1 when the key is missing, 0 on version mismatch and 1 when the
// write was applied.
var putIfVersionScript = redis.NewScript(`
    local current = redis.call('HGET', KEYS[1], 'version')
    if not current then
        return -1
    end
    if current ~= ARGV[1] then
        return 0
    end
    redis.call('HSET', KEYS[1], 'version', ARGV[2], 'value', ARGV[3])
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
    return 1
`)

// RedisStore keeps records as Redis hashes with an expiry equal to the
// retention window.
type RedisStore struct {
	rdb  redis.UniversalClient
	opts Options
}

// NewRedisStore returns a store backed by the given client.
func NewRedisStore(rdb redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults()}
}

func (s *RedisStore) ttlSeconds() int64 {
	secs := int64(s.opts.TTL / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (s *RedisStore) Get(ctx context.Context, key string) (VersionedRecord, error) {
	vals, err := s.rdb.HMGet(ctx, s.opts.scoped(key), "version", "value").Result()
	if err != nil {
		return VersionedRecord{}, unavailable("get", err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return VersionedRecord{}, ErrNotFound
	}
	verStr, ok1 := vals[0].(string)
	value, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return VersionedRecord{}, ErrNotFound
	}
	version, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return VersionedRecord{}, unavailable("get", err)
	}
	return VersionedRecord{Version: version, Value: []byte(value)}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, rec VersionedRecord) error {
	full := s.opts.scoped(key)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, full, "version", strconv.FormatUint(rec.Version, 10), "value", string(rec.Value))
		p.Expire(ctx, full, time.Duration(s.ttlSeconds())*time.Second)
		return nil
	})
	if err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *RedisStore) PutIfVersion(ctx context.Context, key string, expected uint64, rec VersionedRecord) error {
	args := []interface{}{
		strconv.FormatUint(expected, 10),
		strconv.FormatUint(rec.Version, 10),
		string(rec.Value),
		s.ttlSeconds(),
	}
	res, err := putIfVersionScript.Run(ctx, s.rdb, []string{s.opts.scoped(key)}, args...).Int64()
	if err != nil {
		return unavailable("put if version", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrConflict
	default:
		return ErrNotFound
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.opts.scoped(key)).Err(); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	// SCAN may return a key more than once.
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, s.opts.scoped(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, s.opts.unscoped(k))
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("keys", err)
	}
	return keys, nil
}
