package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events one save produces.
const reloadDelay = 150 * time.Millisecond

// Watch reloads path whenever it changes and hands the result to onChange.
// It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so saves that
// replace the file by rename keep being seen. A reload that fails to load or
// validate is logged and skipped; the caller keeps its current settings.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(target), err)
	}
	slog.Info("config: watching for changes", "path", target)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || (!event.Has(fsnotify.Write) && !event.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(target)
			if err != nil {
				slog.Error("config: reload rejected", "path", target, "err", err)
				continue
			}
			h := cfg.Server.Hub
			slog.Info("config: reloaded", "path", target,
				"log_level", cfg.Server.LogLevel,
				"stats_interval", h.StatsInterval,
				"rate_burst", h.RateLimit.Burst)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "err", err)
		}
	}
}
