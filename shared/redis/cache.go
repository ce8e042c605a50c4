package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ViewCache is a JSON-backed Redis cache for read model projections of type T.
// Keys are namespaced with prefix; a zero ttl stores keys without expiry.
//
// A nil *ViewCache is valid and behaves as a cache that never hits, so
// services can run without Redis.
type ViewCache[T any] struct {
	client goredis.UniversalClient
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// setIfNewer writes the view and its version unless a higher version is
// already recorded. KEYS: view, version. ARGV: payload, version, ttl in ms.
var setIfNewer = goredis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

func NewViewCache[T any](client goredis.UniversalClient, logger *zap.Logger, prefix string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{client: client, logger: logger.Named("view_cache"), prefix: prefix, ttl: ttl}
}

func (c *ViewCache[T]) key(id string) string {
	return c.prefix + ":" + id
}

func (c *ViewCache[T]) versionKey(id string) string {
	return c.prefix + ":" + id + ":version"
}

// Get returns (nil, false) on any miss or decode error.
func (c *ViewCache[T]) Get(ctx context.Context, id string) (*T, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Debug("cache read failed", zap.String("key", c.key(id)), zap.Error(err))
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", c.key(id)), zap.Error(err))
		return nil, false
	}
	return &v, true
}

// Set stores value under id. Failures are logged only.
func (c *ViewCache[T]) Set(ctx context.Context, id string, value *T) {
	if c == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", c.key(id)), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(id), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", c.key(id)), zap.Error(err))
	}
}

// SetIfNewer stores value unless the cache has already seen a higher
// version for id, so a slow writer holding an older read cannot replace a
// newer view. It reports whether the value was written.
func (c *ViewCache[T]) SetIfNewer(ctx context.Context, id string, value *T, version int64) bool {
	if c == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache marshal failed", zap.String("key", c.key(id)), zap.Error(err))
		return false
	}
	written, err := setIfNewer.Run(ctx, c.client,
		[]string{c.key(id), c.versionKey(id)},
		data, version, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", c.key(id)), zap.Error(err))
		return false
	}
	return written == 1
}

// Delete drops the cached values for ids. Recorded versions are kept so a
// later SetIfNewer still rejects views older than the last one written.
func (c *ViewCache[T]) Delete(ctx context.Context, ids ...string) {
	if c == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
