package cachegc

import (
	"context"
	"log/slog"
	"time"

	"mpsdash/internal/bootstrap/logging"
	"mpsdash/internal/ports"
)

const defaultInterval = 10 * time.Minute

// Cleaner sweeps expired and corrupted slots out of every registered cache
// on a fixed interval.
type Cleaner struct {
	caches   map[string]ports.Cache
	interval time.Duration
}

func NewCleaner(interval time.Duration, caches map[string]ports.Cache) *Cleaner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Cleaner{caches: caches, interval: interval}
}

// Start blocks until ctx is cancelled; run it in its own goroutine.
func (c *Cleaner) Start(ctx context.Context) {
	ctx = logging.WithComponent(ctx, "cachegc.cleaner")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logging.Info(ctx, "cache cleaner started", slog.Duration("interval", c.interval))
	for {
		select {
		case <-ticker.C:
			c.RunOnce(ctx)
		case <-ctx.Done():
			logging.Debug(ctx, "cache cleaner stopped")
			return
		}
	}
}

// RunOnce sweeps every cache once and returns the per-cache reports.
func (c *Cleaner) RunOnce(ctx context.Context) map[string]ports.GCReport {
	reports := make(map[string]ports.GCReport, len(c.caches))
	for name, cache := range c.caches {
		if ctx.Err() != nil {
			break
		}
		report := cache.GC(ctx)
		reports[name] = report
		if report.Removed() > 0 || report.Failed > 0 {
			logging.Info(ctx, "cache swept",
				slog.String("cache", name),
				slog.Int("removed", report.Removed()),
				slog.Int("failed", report.Failed),
			)
		}
	}
	return reports
}
