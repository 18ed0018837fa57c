package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
	"mpsdash/internal/ports"
)

const (
	defaultMaxEntrySize = 5 * 1024 * 1024
	defaultTTL          = time.Hour
	// Inflated payloads may legitimately be much larger than their
	// compressed slot; beyond this ratio the slot is treated as hostile.
	maxInflateRatio = 64
)

type Options struct {
	// Name labels the store in logs ("responses", "tokens").
	Name         string
	Compress     bool
	MaxEntrySize int64
	DefaultTTL   time.Duration
	// Now is the clock used for expiry; nil means time.Now.
	Now func() time.Time
}

// Store is the generic cache engine. A Store without a backend is disabled:
// every operation is a no-op that reports a miss or false.
type Store struct {
	backend Backend
	opts    Options
}

var _ ports.Cache = (*Store)(nil)

func NewStore(backend Backend, opts Options) *Store {
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = defaultMaxEntrySize
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{backend: backend, opts: opts}
}

// Disabled returns a store that never caches anything.
func Disabled(name string) *Store {
	return NewStore(nil, Options{Name: name})
}

func (s *Store) Enabled() bool {
	return s != nil && s.backend != nil
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !s.Enabled() {
		return false
	}
	ctx = s.logContext(ctx, key)

	if ttl <= 0 {
		ttl = s.opts.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		logging.Warn(ctx, "cache value not serializable", slog.Any("err", errs.Loggable(err)))
		return false
	}

	raw, err := encodeSlot(envelope{
		Key:     key,
		Expires: s.opts.Now().Add(ttl).Unix(),
		Data:    data,
	}, s.opts.Compress)
	if err != nil {
		logging.Error(ctx, "encode cache slot failed", slog.Any("err", errs.Loggable(err)))
		return false
	}

	if int64(len(raw)) > s.opts.MaxEntrySize {
		logging.Warn(ctx, "cache entry exceeds max entry size, not caching",
			slog.Int("size", len(raw)),
			slog.Int64("max_entry_size", s.opts.MaxEntrySize),
		)
		return false
	}

	if err := s.backend.Write(ctx, StorageID(key), raw, ttl); err != nil {
		logging.Error(ctx, "write cache slot failed", slog.Any("err", errs.Loggable(err)))
		return false
	}

	logging.Debug(ctx, "cached entry", slog.Duration("ttl", ttl), slog.Int("size", len(raw)))
	return true
}

func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	if !s.Enabled() {
		return false
	}
	ctx = s.logContext(ctx, key)

	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		logging.Error(ctx, "cache get needs a non-nil pointer destination")
		return false
	}

	id := StorageID(key)
	raw, err := s.backend.Read(ctx, id)
	if errors.Is(err, ErrSlotNotFound) {
		return false
	}
	if err != nil {
		logging.Warn(ctx, "cache slot unreadable", slog.Any("err", errs.Loggable(err)))
		return false
	}

	env, err := s.decode(raw)
	if err == nil && env.Key != key {
		err = errors.New("slot holds a different key")
	}
	if err != nil {
		s.discard(ctx, id, "corrupted", err)
		return false
	}

	if s.expired(env) {
		s.discard(ctx, id, "expired", nil)
		return false
	}

	fresh := reflect.New(target.Elem().Type())
	if err := json.Unmarshal(env.Data, fresh.Interface()); err != nil {
		s.discard(ctx, id, "corrupted", err)
		return false
	}
	target.Elem().Set(fresh.Elem())

	logging.Debug(ctx, "cache hit")
	return true
}

func (s *Store) Delete(ctx context.Context, key string) bool {
	if !s.Enabled() {
		return false
	}
	ctx = s.logContext(ctx, key)

	if err := s.backend.Remove(ctx, StorageID(key)); err != nil {
		logging.Error(ctx, "delete cache slot failed", slog.Any("err", errs.Loggable(err)))
		return false
	}
	return true
}

func (s *Store) Clear(ctx context.Context) bool {
	if !s.Enabled() {
		return false
	}
	ctx = s.logContext(ctx, "")

	ids, err := s.backend.List(ctx)
	if err != nil {
		logging.Error(ctx, "list cache slots failed", slog.Any("err", errs.Loggable(err)))
		return false
	}

	ok := true
	for _, id := range ids {
		if err := s.backend.Remove(ctx, id); err != nil {
			logging.Error(ctx, "clear cache slot failed", slog.String("slot", id), slog.Any("err", errs.Loggable(err)))
			ok = false
		}
	}

	if p, isPurger := s.backend.(purger); isPurger {
		if err := p.Purge(ctx); err != nil {
			logging.Warn(ctx, "purge cache leftovers failed", slog.Any("err", errs.Loggable(err)))
			ok = false
		}
	}

	if ok {
		logging.Info(ctx, "cache cleared", slog.Int("slots", len(ids)))
	}
	return ok
}

// GC removes expired and corrupted slots nobody reads anymore. It tolerates
// slots disappearing underneath it.
func (s *Store) GC(ctx context.Context) ports.GCReport {
	var report ports.GCReport
	if !s.Enabled() {
		return report
	}
	ctx = s.logContext(ctx, "")

	ids, err := s.backend.List(ctx)
	if err != nil {
		logging.Error(ctx, "gc: list cache slots failed", slog.Any("err", errs.Loggable(err)))
		report.Failed++
		return report
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		report.Scanned++

		raw, err := s.backend.Read(ctx, id)
		if errors.Is(err, ErrSlotNotFound) {
			continue
		}
		if err != nil {
			logging.Warn(ctx, "gc: cache slot unreadable", slog.String("slot", id), slog.Any("err", errs.Loggable(err)))
			report.Failed++
			continue
		}

		env, err := s.decode(raw)
		if err == nil && StorageID(env.Key) != id {
			err = errors.New("slot name does not match its key")
		}
		switch {
		case err != nil:
			if s.discard(ctx, id, "corrupted", err) {
				report.Corrupted++
			} else {
				report.Failed++
			}
		case s.expired(env):
			if s.discard(ctx, id, "expired", nil) {
				report.Expired++
			} else {
				report.Failed++
			}
		}
	}

	logging.Info(ctx, "cache gc finished",
		slog.Int("scanned", report.Scanned),
		slog.Int("expired", report.Expired),
		slog.Int("corrupted", report.Corrupted),
		slog.Int("failed", report.Failed),
	)
	return report
}

func (s *Store) decode(raw []byte) (envelope, error) {
	if int64(len(raw)) > s.opts.MaxEntrySize {
		return envelope{}, errors.New("slot exceeds max entry size")
	}
	return decodeSlot(raw, s.opts.MaxEntrySize*maxInflateRatio)
}

func (s *Store) expired(env envelope) bool {
	return s.opts.Now().Unix() >= env.Expires
}

// discard deletes a slot that must not be served again.
func (s *Store) discard(ctx context.Context, id string, reason string, cause error) bool {
	attrs := []slog.Attr{slog.String("slot", id), slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.Any("err", errs.Loggable(cause)))
	}

	if err := s.backend.Remove(ctx, id); err != nil {
		attrs = append(attrs, slog.Any("remove_err", errs.Loggable(err)))
		logging.Error(ctx, "discard cache slot failed", attrs...)
		return false
	}

	if reason == "expired" {
		logging.Debug(ctx, "cache slot discarded", attrs...)
	} else {
		logging.Warn(ctx, "cache slot discarded", attrs...)
	}
	return true
}

func (s *Store) logContext(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []slog.Attr{
		slog.String("component", "cache.store"),
		slog.String("cache", s.opts.Name),
		slog.String("backend", s.backend.Name()),
	}
	if key != "" {
		attrs = append(attrs, slog.String("key", key))
	}
	return logging.WithAttrs(ctx, attrs...)
}

// GetOr is get(key, default) for callers that prefer a value return.
func GetOr[T any](ctx context.Context, c ports.Cache, key string, def T) T {
	var v T
	if c.Get(ctx, key, &v) {
		return v
	}
	return def
}
