package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mpsdash/internal/errs"
)

const scanBatch = 256

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisBackend keeps one string key per slot. SET is atomic; the server-side
// TTL only speeds up reclamation, the envelope expiry stays authoritative.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend requires a prefix: Clear removes every slot-shaped key
// under it, so the namespace must not be the whole database.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if strings.TrimSpace(opts.Prefix) == "" {
		return nil, errors.New("redis cache prefix is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.Wrapf(err, "ping redis %s", opts.Addr)
	}
	return newRedisBackend(rdb, opts.Prefix), nil
}

func newRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: strings.TrimSpace(prefix)}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}

func (b *RedisBackend) Read(ctx context.Context, id string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, errs.Wrap(err, "redis get")
	}
	return data, nil
}

func (b *RedisBackend) Write(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.rdb.Set(ctx, b.key(id), data, ttl).Err(); err != nil {
		return errs.Wrap(err, "redis set")
	}
	return nil
}

func (b *RedisBackend) Remove(ctx context.Context, id string) error {
	if err := b.rdb.Del(ctx, b.key(id)).Err(); err != nil {
		return errs.Wrap(err, "redis del")
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := b.rdb.Scan(ctx, 0, escapeGlob(b.prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		id, ok := strings.CutPrefix(iter.Val(), b.prefix)
		if ok && isStorageID(id) {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, errs.Wrap(err, "redis scan")
	}
	return ids, nil
}

// escapeGlob quotes the SCAN MATCH metacharacters so a prefix matches
// literally.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
