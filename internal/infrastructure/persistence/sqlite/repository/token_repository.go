package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
	"mpsdash/internal/infrastructure/persistence/sqlite/model"
	"mpsdash/internal/ports"
)

// TokenRepository keeps the OAuth token record in the oauth_tokens table,
// one row per name. The dashboard only ever uses mps.TokenCacheKey.
type TokenRepository struct {
	db   *gorm.DB
	name string
	now  func() time.Time
}

var _ ports.TokenStore = (*TokenRepository)(nil)

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db, name: mps.TokenCacheKey, now: time.Now}
}

func (r *TokenRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if r.db == nil {
		return nil, errors.New("token repository has no database")
	}
	return r.db.WithContext(ctx), nil
}

func (r *TokenRepository) Load(ctx context.Context) (mps.TokenRecord, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return mps.TokenRecord{}, err
	}

	var row model.OAuthToken
	if err := db.Where("name = ?", r.name).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mps.TokenRecord{}, ports.ErrTokenNotFound
		}
		return mps.TokenRecord{}, errs.Wrap(err, "query oauth token")
	}

	if r.now().Unix() >= row.RetainUntil {
		if err := db.Where("name = ? AND retain_until = ?", r.name, row.RetainUntil).Delete(&model.OAuthToken{}).Error; err != nil {
			return mps.TokenRecord{}, errs.Wrap(err, "delete stale oauth token")
		}
		return mps.TokenRecord{}, ports.ErrTokenNotFound
	}

	return mps.TokenRecord{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

func (r *TokenRepository) Save(ctx context.Context, rec mps.TokenRecord, retain time.Duration) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if rec.AccessToken == "" {
		return errors.New("access token is required")
	}

	now := r.now()
	retainUntil := now.Add(retain).Unix()
	if retainUntil < rec.ExpiresAt {
		retainUntil = rec.ExpiresAt
	}

	row := model.OAuthToken{
		Name:         r.name,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
		RetainUntil:  retainUntil,
		UpdatedAt:    now.UTC().Format(time.RFC3339Nano),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"access_token":  row.AccessToken,
			"refresh_token": row.RefreshToken,
			"expires_at":    row.ExpiresAt,
			"retain_until":  row.RetainUntil,
			"updated_at":    row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert oauth token")
	}
	return nil
}

func (r *TokenRepository) Delete(ctx context.Context) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}
	if err := db.Where("name = ?", r.name).Delete(&model.OAuthToken{}).Error; err != nil {
		return errs.Wrap(err, "delete oauth token")
	}
	return nil
}
