package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/errs"
)

const (
	lockExt       = ".lock"
	tmpExt        = ".tmp"
	lockRetry     = 10 * time.Millisecond
	lockWaitLimit = 5 * time.Second
	// Header slack on top of the size cap so an oversized slot is still
	// read far enough to be recognized as such.
	readSlack = 1024
)

// Apache deny rule for deployments that serve the project root directly.
const accessGuard = `# Deny direct access to cache files
<FilesMatch "\.(cache|tmp|lock)$">
    Require all denied
</FilesMatch>
`

// FileBackend keeps one file per slot: <dir>/<storageId>.cache.
type FileBackend struct {
	dir       string
	readLimit int64
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates dir when missing. An error here means the caller
// should run with caching disabled.
func NewFileBackend(dir string, maxEntrySize int64) (*FileBackend, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("cache directory is required")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.Wrapf(err, "create cache directory %q", dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errs.Wrapf(err, "stat cache directory %q", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cache path %q is not a directory", dir)
	}

	guard := filepath.Join(dir, ".htaccess")
	if _, err := os.Stat(guard); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(guard, []byte(accessGuard), 0o640); err != nil {
			return nil, errs.Wrapf(err, "write access guard in %q", dir)
		}
	}

	var limit int64
	if maxEntrySize > 0 {
		limit = maxEntrySize + readSlack
	}
	return &FileBackend{dir: dir, readLimit: limit}, nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) slotPath(id string) string {
	return filepath.Join(b.dir, id+slotExt)
}

func (b *FileBackend) Read(_ context.Context, id string) ([]byte, error) {
	f, err := os.Open(b.slotPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, errs.Wrap(err, "open cache slot")
	}
	defer f.Close()

	var r io.Reader = f
	if b.readLimit > 0 {
		r = io.LimitReader(f, b.readLimit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Wrap(err, "read cache slot")
	}
	return data, nil
}

// Write takes the slot's exclusive lock, writes a temp file in the same
// directory and renames it over the slot.
func (b *FileBackend) Write(ctx context.Context, id string, data []byte, _ time.Duration) error {
	path := b.slotPath(id)

	lockCtx, cancel := context.WithTimeout(ctx, lockWaitLimit)
	defer cancel()

	lock := flock.New(path + lockExt)
	locked, err := lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return errs.Wrap(err, "lock cache slot")
	}
	if !locked {
		return errors.New("lock cache slot: not acquired")
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(b.dir, id+".*"+tmpExt)
	if err != nil {
		return errs.Wrap(err, "create temp slot")
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.Wrap(err, "write temp slot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errs.Wrap(err, "sync temp slot")
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(err, "close temp slot")
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return errs.Wrap(err, "chmod temp slot")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errs.Wrap(err, "commit slot")
	}
	committed = true
	return nil
}

// Remove leaves the slot's lock file in place: a writer may hold it, and
// unlinking it would let a second writer lock a fresh inode. Purge drops it.
func (b *FileBackend) Remove(_ context.Context, id string) error {
	if err := os.Remove(b.slotPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errs.Wrap(err, "remove cache slot")
	}
	return nil
}

func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, errs.Wrap(err, "read cache directory")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := strings.CutSuffix(entry.Name(), slotExt)
		if ok && isStorageID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Purge drops lock files and abandoned temp files.
func (b *FileBackend) Purge(_ context.Context) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return errs.Wrap(err, "read cache directory")
	}

	var failed []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, lockExt) || strings.HasSuffix(name, tmpExt)) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("remove %d leftover files: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

// OpenFileStore builds a Store over dir, or a disabled Store when dir cannot
// be prepared; the dashboard then always calls upstream instead of failing.
func OpenFileStore(ctx context.Context, dir string, opts Options) *Store {
	backend, err := NewFileBackend(dir, opts.MaxEntrySize)
	if err != nil {
		logging.Error(
			logging.WithComponent(ctx, "cache.store"),
			"cache directory unavailable, caching disabled",
			slog.String("cache", opts.Name),
			slog.String("dir", dir),
			slog.Any("err", errs.Loggable(err)),
		)
		return Disabled(opts.Name)
	}
	return NewStore(backend, opts)
}
