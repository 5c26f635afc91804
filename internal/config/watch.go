package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/internal/util"
)

// debounceWindow collapses editor write bursts into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watch monitors a config file and invokes onReload with the freshly parsed
// configuration whenever the file changes and still validates. A config that
// fails to parse or validate is logged and skipped; the previous configuration
// stays in effect.
//
// The watcher stops when ctx is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory rather than the file itself: most editors replace
	// the file on save, which would otherwise drop the watch.
	path = expandPath(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	util.SafeGoWithName("config-watcher", func() {
		defer watcher.Close()

		var pending *time.Timer
		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				logging.Warn("config reload skipped", logging.Err(err), logging.Component("config"))
				return
			}
			logging.Info("config reloaded", "path", path, logging.Component("config"))
			onReload(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounceWindow, reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("config watcher error", logging.Err(err), logging.Component("config"))
			}
		}
	})

	return nil
}
