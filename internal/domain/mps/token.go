package mps

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TokenCacheKey is the fixed identifier under which the single OAuth token
// record is persisted.
const TokenCacheKey = "mps_access_token"

var ErrTokenLifetimeTooShort = errors.New("token lifetime does not exceed the safety buffer")

// TokenRecord is the persisted OAuth credential. ExpiresAt already has the
// safety buffer subtracted.
type TokenRecord struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
	ExpiresAt    int64   `json:"expires_at"`
}

// NewTokenRecord computes expires_at = issuedAt + expiresIn - buffer.
// The record is unusable unless 0 <= buffer < expiresIn.
func NewTokenRecord(accessToken string, refreshToken string, issuedAt time.Time, expiresIn time.Duration, buffer time.Duration) (TokenRecord, error) {
	if strings.TrimSpace(accessToken) == "" {
		return TokenRecord{}, errors.New("access token is empty")
	}
	if buffer < 0 {
		return TokenRecord{}, fmt.Errorf("negative safety buffer %s", buffer)
	}
	if expiresIn <= buffer {
		return TokenRecord{}, fmt.Errorf("%w: expires_in=%s buffer=%s", ErrTokenLifetimeTooShort, expiresIn, buffer)
	}

	rec := TokenRecord{
		AccessToken: accessToken,
		ExpiresAt:   issuedAt.Add(expiresIn - buffer).Unix(),
	}
	if refreshToken != "" {
		rec.RefreshToken = &refreshToken
	}
	return rec, nil
}

// Valid reports whether the access token may still be sent at now.
func (r TokenRecord) Valid(now time.Time) bool {
	return r.AccessToken != "" && now.Unix() < r.ExpiresAt
}

func (r TokenRecord) Refreshable() bool {
	return r.RefreshToken != nil && *r.RefreshToken != ""
}

func (r TokenRecord) Expiry() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}

// Masked renders the access token for display without leaking it.
func (r TokenRecord) Masked() string {
	return MaskSecret(r.AccessToken)
}

func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
