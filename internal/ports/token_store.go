package ports

import (
	"context"
	"errors"
	"time"

	"mpsdash/internal/domain/mps"
)

var ErrTokenNotFound = errors.New("oauth token record not found")

// TokenStore persists the single current OAuth token record.
type TokenStore interface {
	// Load returns ErrTokenNotFound when no record is stored.
	Load(ctx context.Context) (mps.TokenRecord, error)
	// Save replaces the record wholesale; retain bounds how long the record
	// (and its refresh token) is kept after it was written.
	Save(ctx context.Context, rec mps.TokenRecord, retain time.Duration) error
	Delete(ctx context.Context) error
}
