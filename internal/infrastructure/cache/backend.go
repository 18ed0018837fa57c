package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

const slotExt = ".cache"

var ErrSlotNotFound = errors.New("cache slot not found")

// Backend is the physical location of the slots. Implementations only move
// opaque bytes; validation and expiry belong to Store.
type Backend interface {
	// Read returns ErrSlotNotFound when the slot does not exist.
	Read(ctx context.Context, id string) ([]byte, error)
	// Write replaces the slot atomically: a concurrent Read sees either the
	// old bytes or the new ones, never a mix.
	Write(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Remove succeeds when the slot is already gone.
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Name() string
}

// purger is implemented by backends that keep auxiliary files next to the
// slots (locks, temp files) and can drop them on Clear.
type purger interface {
	Purge(ctx context.Context) error
}

// StorageID derives the fixed-length, namespace-safe slot id of a key.
func StorageID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func isStorageID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	return strings.Trim(id, "0123456789abcdef") == ""
}
