package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads h whenever its config file changes on disk, until ctx is done.
// The parent directory is watched so that editors which replace the file
// on save are picked up too.
func Watch(ctx context.Context, h *Holder) error {
	if h.Path() == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	target, err := filepath.Abs(h.Path())
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := h.Reload()
				if err != nil {
					slog.Warn("config reload failed, keeping previous settings", "path", target, "error", err)
					continue
				}
				slog.Info("config reloaded",
					"threshold_verify", cfg.Analysis.ThresholdVerify,
					"threshold_cluster", cfg.Analysis.ThresholdCluster,
					"video_sample_interval", cfg.Analysis.VideoSampleInterval)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
