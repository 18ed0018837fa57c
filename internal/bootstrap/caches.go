package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"mpsdash/internal/bootstrap/config"
	"mpsdash/internal/bootstrap/database"
	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/cache"
)

func cacheOptions(name string, cfg config.CacheConfig) cache.Options {
	return cache.Options{
		Name:         name,
		Compress:     cfg.Compress,
		MaxEntrySize: cfg.MaxEntrySize,
		DefaultTTL:   cfg.DefaultTTL,
	}
}

// openResponseCache builds the response store on the configured backend.
// A backend that cannot be reached leaves caching disabled rather than
// failing startup. The returned closer is nil unless the backend holds a
// connection.
func openResponseCache(ctx context.Context, cfg config.Config, db *database.Lazy) (*cache.Store, io.Closer) {
	opts := cacheOptions("responses", cfg.Cache)
	backend := strings.ToLower(cfg.Cache.Backend)

	if backend == "file" {
		return cache.OpenFileStore(ctx, cfg.Cache.Dir, opts), nil
	}

	b, err := openBackend(ctx, backend, cfg, db)
	if err != nil {
		logging.Warn(ctx, "cache backend unavailable, caching disabled",
			slog.String("cache", opts.Name),
			slog.String("backend", backend),
			slog.Any("err", errs.Loggable(err)),
		)
		return cache.Disabled(opts.Name), nil
	}

	logging.Info(ctx, "cache backend ready", slog.String("cache", opts.Name), slog.String("backend", b.Name()))
	closer, _ := b.(io.Closer)
	return cache.NewStore(b, opts), closer
}

func openBackend(ctx context.Context, backend string, cfg config.Config, db *database.Lazy) (cache.Backend, error) {
	switch backend {
	case "sqlite":
		gormDB, err := db.Get(ctx)
		if err != nil {
			return nil, errs.Wrap(err, "open cache database")
		}
		b := cache.NewSQLiteBackend(gormDB)
		if err := b.Migrate(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case "s3":
		s3 := cfg.Cache.S3
		return cache.NewS3Backend(ctx, cache.S3Options{
			Endpoint:     s3.Endpoint,
			Region:       s3.Region,
			Bucket:       s3.Bucket,
			Prefix:       s3.Prefix,
			AccessKey:    s3.AccessKey,
			SecretKey:    s3.SecretKey,
			UseSSL:       s3.UseSSL,
			PathStyle:    s3.PathStyle,
			MaxEntrySize: cfg.Cache.MaxEntrySize,
		})
	case "redis":
		r := cfg.Cache.Redis
		return cache.NewRedisBackend(ctx, cache.RedisOptions{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", backend)
	}
}

// openTokenCache keeps the token record in its own directory so clearing
// the response cache never logs the dashboard out.
func openTokenCache(ctx context.Context, cfg config.Config) *cache.Store {
	return cache.OpenFileStore(ctx, cfg.OAuth.CacheDir, cacheOptions("tokens", cfg.Cache))
}
