package ports

import (
	"context"
	"time"
)

// Cache is the crash-safe key/value capability shared by the gateway and
// the token store. No method returns an error: every storage fault degrades
// to a cache miss (or false) so a broken cache only costs an upstream call.
type Cache interface {
	// Get decodes the live entry for key into dst and reports a hit. On a
	// miss dst is left untouched, so its prior value acts as the default.
	Get(ctx context.Context, key string, dst any) bool
	// Set stores value for ttl; false means nothing was committed.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	// Delete reports whether the entry is absent afterwards.
	Delete(ctx context.Context, key string) bool
	Clear(ctx context.Context) bool
	GC(ctx context.Context) GCReport
}

// GCReport summarizes one reclamation sweep.
type GCReport struct {
	Scanned   int
	Expired   int
	Corrupted int
	Failed    int
}

func (r GCReport) Removed() int {
	return r.Expired + r.Corrupted
}
