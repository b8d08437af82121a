package rediscache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/pixcache/diskcache"
)

// Options configures a Cache. Zero values are safe:
//   - Prefix == ""    => "pixcache:"
//   - LockTTL <= 0    => 30s
//   - TTL <= 0        => entries never expire
//   - nil Logger      => discard
type Options struct {
	Prefix string
	// MaxBytes rejects single entries larger than this (0 = unbounded).
	// Total memory is bounded by the server's maxmemory policy.
	MaxBytes int64
	TTL      time.Duration
	LockTTL  time.Duration
	Compress bool
	Logger   *slog.Logger
}

// Cache implements diskcache.Cache on Redis. Entries use the same checksummed
// framing as diskcache.Disk. An editor holds a SETNX lock key carrying its
// own token for its lifetime; a second editor for the key gets
// diskcache.ErrWriteConflict. An editor whose lock expired has lost the key:
// its Commit fails with ErrWriteConflict and its Abort leaves the new
// holder's lock alone.
type Cache struct {
	rdb    redis.UniversalClient
	opt    Options
	log    *slog.Logger
	size   atomic.Int64
	closed atomic.Bool
}

var _ diskcache.Cache = (*Cache)(nil)

// New wraps rdb. The client is owned by the caller.
func New(rdb redis.UniversalClient, opt Options) *Cache {
	if opt.Prefix == "" {
		opt.Prefix = "pixcache:"
	}
	if opt.LockTTL <= 0 {
		opt.LockTTL = 30 * time.Second
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{rdb: rdb, opt: opt, log: opt.Logger.With("component", "rediscache")}
}

// Both keys of an entry share the {key} hash tag so the scripts below touch
// a single cluster slot.
func (c *Cache) dataKey(key string) string { return c.opt.Prefix + "d:{" + key + "}" }
func (c *Cache) lockKey(key string) string { return c.opt.Prefix + "l:{" + key + "}" }

// KEYS[1] lock. ARGV[1] token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KEYS[1] lock, KEYS[2] data. ARGV[1] token, ARGV[2] entry, ARGV[3] ttl ms.
var commitScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
redis.call("DEL", KEYS[1])
return 1
`)

func (c *Cache) OpenSnapshot(ctx context.Context, key string) (*diskcache.Snapshot, error) {
	if c.closed.Load() {
		return nil, diskcache.ErrClosed
	}
	raw, err := c.rdb.Get(ctx, c.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, diskcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("rediscache: get %s: %w", key, err)
	}
	body, err := diskcache.DecodeEntry(raw)
	if err != nil {
		c.log.Warn("corrupt entry removed", "key", key, "err", err)
		_ = c.rdb.Del(ctx, c.dataKey(key)).Err()
		return nil, err
	}
	return diskcache.NewSnapshot(key, body), nil
}

func (c *Cache) Edit(ctx context.Context, key string) (*diskcache.Editor, error) {
	if c.closed.Load() {
		return nil, diskcache.ErrClosed
	}
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, c.lockKey(key), token, c.opt.LockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("rediscache: lock %s: %w", key, err)
	}
	if !ok {
		return nil, diskcache.ErrWriteConflict
	}
	unlock := func() {
		// Background context: the edit may outlive the ctx that opened it.
		if err := unlockScript.Run(context.Background(), c.rdb, []string{c.lockKey(key)}, token).Err(); err != nil {
			c.log.Warn("unlock", "key", key, "err", err)
		}
	}
	return diskcache.NewEditor(key, func(body []byte) error {
		return c.commit(key, token, body)
	}, unlock), nil
}

func (c *Cache) commit(key, token string, body []byte) error {
	raw, err := diskcache.EncodeEntry(body, c.opt.Compress)
	if err == nil && c.opt.MaxBytes > 0 && int64(len(raw)) > c.opt.MaxBytes {
		err = fmt.Errorf("%w: %d bytes", diskcache.ErrTooLarge, len(raw))
	}
	ctx := context.Background()
	if err != nil {
		_ = unlockScript.Run(ctx, c.rdb, []string{c.lockKey(key)}, token).Err()
		return err
	}
	won, err := commitScript.Run(ctx, c.rdb,
		[]string{c.lockKey(key), c.dataKey(key)},
		token, raw, c.opt.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("rediscache: set %s: %w", key, err)
	}
	if won == 0 {
		c.log.Debug("lock lost before commit", "key", key)
		return fmt.Errorf("rediscache: commit %s: %w", key, diskcache.ErrWriteConflict)
	}
	c.size.Add(int64(len(raw)))
	return nil
}

func (c *Cache) Remove(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, c.dataKey(key)).Err(); err != nil {
		return fmt.Errorf("rediscache: del %s: %w", key, err)
	}
	return nil
}

// Clear deletes every entry under the prefix.
func (c *Cache) Clear(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, c.opt.Prefix+"d:*", 256).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.rdb.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 256 {
			if err := flush(); err != nil {
				return fmt.Errorf("rediscache: clear: %w", err)
			}
		}
	}
	if err := errors.Join(iter.Err(), flush()); err != nil {
		return fmt.Errorf("rediscache: clear: %w", err)
	}
	c.size.Store(0)
	return nil
}

// Size is the bytes written by this process since the last Clear; the
// server's own accounting is authoritative.
func (c *Cache) Size() int64    { return c.size.Load() }
func (c *Cache) MaxSize() int64 { return c.opt.MaxBytes }

// Close stops the cache; the client stays open.
func (c *Cache) Close() error {
	c.closed.Store(true)
	return nil
}
