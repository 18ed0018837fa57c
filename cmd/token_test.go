package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpsdash/internal/domain/mps"
)

func TestWriteTokenMasksSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	refresh := "refresh-secret"
	rec := mps.TokenRecord{
		AccessToken:  "abcd1234567890wxyz",
		RefreshToken: &refresh,
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}

	var out bytes.Buffer
	require.NoError(t, writeToken(&out, rec, now))

	assert.NotContains(t, out.String(), "1234567890")
	assert.Contains(t, out.String(), "access_token: abcd**********wxyz\n")
	assert.Contains(t, out.String(), "(valid)")
	assert.Contains(t, out.String(), "refreshable:  yes\n")

	out.Reset()
	require.NoError(t, writeToken(&out, mps.TokenRecord{AccessToken: "short", ExpiresAt: now.Unix()}, now))
	assert.Contains(t, out.String(), "(expired)")
	assert.Contains(t, out.String(), "refreshable:  no\n")
}
