package store

import (
	"context"
	"log/slog"
	"time"
)

// RunRetention purges soft-deleted messages older than retention. It ticks
// at half the retention (minimum 1 second, maximum 1 hour) and blocks until
// ctx is cancelled. A zero retention returns immediately.
func RunRetention(ctx context.Context, m Messages, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := m.PurgeDeleted(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("store: purge of deleted messages failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: purged deleted messages", "count", n)
			}
		}
	}
}
