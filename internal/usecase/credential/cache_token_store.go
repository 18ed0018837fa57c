package credential

import (
	"context"
	"errors"
	"time"

	"mpsdash/internal/domain/mps"
	"mpsdash/internal/ports"
)

// CacheTokenStore persists the token record through a dedicated cache under
// mps.TokenCacheKey. A cache that cannot store anything degrades to "no
// token held", which only costs an extra grant.
type CacheTokenStore struct {
	cache ports.Cache
}

var _ ports.TokenStore = (*CacheTokenStore)(nil)

func NewCacheTokenStore(cache ports.Cache) *CacheTokenStore {
	return &CacheTokenStore{cache: cache}
}

func (s *CacheTokenStore) Load(ctx context.Context) (mps.TokenRecord, error) {
	var rec mps.TokenRecord
	if !s.cache.Get(ctx, mps.TokenCacheKey, &rec) || rec.AccessToken == "" {
		return mps.TokenRecord{}, ports.ErrTokenNotFound
	}
	return rec, nil
}

func (s *CacheTokenStore) Save(ctx context.Context, rec mps.TokenRecord, retain time.Duration) error {
	if !s.cache.Set(ctx, mps.TokenCacheKey, rec, retain) {
		return errors.New("token cache rejected the record")
	}
	return nil
}

func (s *CacheTokenStore) Delete(ctx context.Context) error {
	if !s.cache.Delete(ctx, mps.TokenCacheKey) {
		return errors.New("token cache could not delete the record")
	}
	return nil
}
