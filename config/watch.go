package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Swind/go-axon/core"
)

// debounce collapses the burst of events editors produce for one save.
const debounce = 50 * time.Millisecond

// Watch reloads path whenever it changes and hands each valid result to fn.
// Invalid files are logged and skipped. It blocks until ctx ends.
//
// The parent directory is watched so that atomic renames over the file are
// seen.
func Watch(ctx context.Context, path string, logger core.Logger, fn func(*Config)) error {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", core.F("path", abs), core.F("error", err))
		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Config reload rejected", core.F("path", abs), core.F("error", err))
				continue
			}
			logger.Info("Config reloaded", core.F("path", abs))
			fn(cfg)
		}
	}
}
