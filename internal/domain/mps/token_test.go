package mps

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenRecordSubtractsBuffer(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)

	rec, err := NewTokenRecord("access-abc", "refresh-xyz", issued, time.Hour, 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, issued.Unix()+3600-30, rec.ExpiresAt)
	require.True(t, rec.Refreshable())
	assert.Equal(t, "refresh-xyz", *rec.RefreshToken)

	assert.True(t, rec.Valid(issued.Add(3569*time.Second)))
	assert.False(t, rec.Valid(issued.Add(3570*time.Second)))
}

func TestNewTokenRecordRejectsUnusableLifetime(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)

	_, err := NewTokenRecord("a", "", issued, 30*time.Second, 30*time.Second)
	assert.True(t, errors.Is(err, ErrTokenLifetimeTooShort))

	_, err = NewTokenRecord("a", "", issued, time.Hour, -time.Second)
	assert.Error(t, err)

	_, err = NewTokenRecord("  ", "", issued, time.Hour, 0)
	assert.Error(t, err)
}

func TestTokenRecordWithoutRefreshToken(t *testing.T) {
	rec, err := NewTokenRecord("a", "", time.Unix(0, 0), time.Minute, 0)
	require.NoError(t, err)
	assert.Nil(t, rec.RefreshToken)
	assert.False(t, rec.Refreshable())
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "eyJh****wxyz", MaskSecret("eyJhABCDwxyz"))
}
