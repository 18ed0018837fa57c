package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileBackendPreparesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	backend, err := NewFileBackend(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, dir, backend.Dir())
	assert.DirExists(t, dir)

	guard, err := os.ReadFile(filepath.Join(dir, ".htaccess"))
	require.NoError(t, err)
	assert.Contains(t, string(guard), "Require all denied")
}

func TestNewFileBackendKeepsExistingGuard(t *testing.T) {
	dir := t.TempDir()
	guard := filepath.Join(dir, ".htaccess")
	require.NoError(t, os.WriteFile(guard, []byte("custom"), 0o640))

	_, err := NewFileBackend(dir, 0)
	require.NoError(t, err)

	got, err := os.ReadFile(guard)
	require.NoError(t, err)
	assert.Equal(t, "custom", string(got))
}

func TestNewFileBackendRejectsBadPaths(t *testing.T) {
	_, err := NewFileBackend("  ", 0)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o640))
	_, err = NewFileBackend(file, 0)
	assert.Error(t, err)
}

func TestFileBackendReadWriteRemove(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()
	id := StorageID("k")

	_, err = backend.Read(ctx, id)
	assert.True(t, errors.Is(err, ErrSlotNotFound))

	require.NoError(t, backend.Write(ctx, id, []byte("one"), time.Minute))
	require.NoError(t, backend.Write(ctx, id, []byte("two"), time.Minute))

	got, err := backend.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	info, err := os.Stat(backend.slotPath(id))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	require.NoError(t, backend.Remove(ctx, id))
	require.NoError(t, backend.Remove(ctx, id))
	assert.NoFileExists(t, backend.slotPath(id))
	assert.FileExists(t, backend.slotPath(id)+lockExt)

	require.NoError(t, backend.Purge(ctx))
	assert.NoFileExists(t, backend.slotPath(id)+lockExt)
}

func TestFileBackendRemoveKeepsHeldLock(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := context.Background()
	id := StorageID("k")
	require.NoError(t, backend.Write(ctx, id, []byte("one"), time.Minute))

	held := flock.New(backend.slotPath(id) + lockExt)
	require.NoError(t, held.Lock())

	require.NoError(t, backend.Remove(ctx, id))
	assert.FileExists(t, backend.slotPath(id)+lockExt)

	// A writer must still contend on the lock the holder owns.
	lockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	contender := flock.New(backend.slotPath(id) + lockExt)
	locked, err := contender.TryLockContext(lockCtx, 5*time.Millisecond)
	assert.False(t, locked)
	assert.Error(t, err)

	require.NoError(t, held.Unlock())
	require.NoError(t, backend.Write(ctx, id, []byte("two"), time.Minute))
	got, err := backend.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestFileBackendListSkipsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, 0)
	require.NoError(t, err)
	ctx := context.Background()

	ids := []string{StorageID("a"), StorageID("b")}
	for _, id := range ids {
		require.NoError(t, backend.Write(ctx, id, []byte("x"), time.Minute))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.cache"), nil, 0o640))
	require.NoError(t, os.Mkdir(filepath.Join(dir, StorageID("dir")+slotExt), 0o750))

	got, err := backend.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)
}

func TestFileBackendReadStopsAtLimit(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), 10)
	require.NoError(t, err)
	ctx := context.Background()
	id := StorageID("k")

	require.NoError(t, backend.Write(ctx, id, make([]byte, 4096), time.Minute))

	got, err := backend.Read(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 10+readSlack+1)
}
