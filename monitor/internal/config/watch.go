package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file at path is written and hands
// the alerts section to onChange. Only routing is hot-swappable; timing and
// connection settings are read once at startup, so the rest of a reloaded
// config is validated and then discarded. Watch runs until ctx is cancelled.
//
// A reload that fails validation is logged and dropped; onChange only sees
// configs that passed Load.
func Watch(ctx context.Context, path string, onChange func(AlertsConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save atomically via rename, which arrives as a
			// create event rather than a write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			slog.Info("config: reloaded, applying alert routing",
				"path", path,
				"routes", len(cfg.Monitor.Alerts.Routing),
				"fallback_recipients", len(cfg.Monitor.Alerts.Recipients),
			)
			onChange(cfg.Monitor.Alerts)

			// An atomic save replaces the inode; re-add the path so the
			// next save is still observed.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
