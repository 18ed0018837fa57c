package cachegc

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpsdash/internal/infrastructure/cache"
	"mpsdash/internal/ports"
)

type countingCache struct {
	ports.Cache
	sweeps atomic.Int32
}

func (c *countingCache) GC(context.Context) ports.GCReport {
	c.sweeps.Add(1)
	return ports.GCReport{Scanned: 1}
}

func TestRunOnceSweepsEveryCache(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	backend, err := cache.NewFileBackend(dir, 0)
	require.NoError(t, err)
	responses := cache.NewStore(backend, cache.Options{Name: "responses", Now: func() time.Time { return now }})

	ctx := context.Background()
	require.True(t, responses.Set(ctx, "old", 1, time.Second))
	require.True(t, responses.Set(ctx, "fresh", 2, time.Hour))
	require.NoError(t, os.WriteFile(filepath.Join(dir, cache.StorageID("junk")+".cache"), []byte("junk"), 0o640))
	now = now.Add(time.Minute)

	tokens := &countingCache{}
	cleaner := NewCleaner(time.Minute, map[string]ports.Cache{"responses": responses, "tokens": tokens})

	reports := cleaner.RunOnce(ctx)

	assert.Equal(t, 1, reports["responses"].Expired)
	assert.Equal(t, 1, reports["responses"].Corrupted)
	assert.Equal(t, 1, reports["tokens"].Scanned)
	assert.EqualValues(t, 1, tokens.sweeps.Load())
	assert.Equal(t, 2, cache.GetOr(ctx, responses, "fresh", 0))
}

func TestStartRunsPeriodicallyAndStops(t *testing.T) {
	tokens := &countingCache{}
	cleaner := NewCleaner(5*time.Millisecond, map[string]ports.Cache{"tokens": tokens})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cleaner.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return tokens.sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleaner did not stop after cancel")
	}
}

func TestNewCleanerDefaultsInterval(t *testing.T) {
	cleaner := NewCleaner(0, nil)
	assert.Equal(t, defaultInterval, cleaner.interval)
	assert.Empty(t, cleaner.RunOnce(context.Background()))
}
