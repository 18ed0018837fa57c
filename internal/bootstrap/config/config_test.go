package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.test/api3/
oauth:
  token_url: https://api.example.test/api3/token
  client_id: dashboard-client
  safety_buffer: 45s
cache:
  max_entry_size: 1024
`)

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test/api3/", cfg.API.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.API.Timeout)
	assert.Equal(t, 30*time.Second, cfg.OAuth.Timeout)
	assert.Equal(t, 45*time.Second, cfg.OAuth.SafetyBuffer)
	assert.Equal(t, "account", cfg.OAuth.Scope)
	assert.Equal(t, "cache", cfg.OAuth.Store)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.True(t, cfg.Cache.Compress)
	assert.Equal(t, int64(1024), cfg.Cache.MaxEntrySize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://api.example.test/api3/
oauth:
  token_url: https://api.example.test/api3/token
  client_secret: from-file
`)
	t.Setenv("MPS_OAUTH_CLIENT_SECRET", "from-env")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.OAuth.ClientSecret)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"missing base url": `
oauth:
  token_url: https://api.example.test/token
`,
		"negative buffer": `
api:
  base_url: https://api.example.test/
oauth:
  token_url: https://api.example.test/token
  safety_buffer: -1s
`,
		"unknown backend": `
api:
  base_url: https://api.example.test/
oauth:
  token_url: https://api.example.test/token
cache:
  backend: memcached
`,
		"s3 without bucket": `
api:
  base_url: https://api.example.test/
oauth:
  token_url: https://api.example.test/token
cache:
  backend: s3
  s3:
    endpoint: localhost:9000
`,
		"redis with blank prefix": `
api:
  base_url: https://api.example.test/
oauth:
  token_url: https://api.example.test/token
cache:
  backend: redis
  redis:
    addr: localhost:6379
    prefix: "  "
`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
