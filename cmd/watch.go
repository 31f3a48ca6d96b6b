package cmd

import (
	"context"
	"path/filepath"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"

	"github.com/northstar-wraith/wraith/server"
)

// Editors tend to write a file several times when saving it.
var watchDebounce = 500 * time.Millisecond

type reloader interface {
	Reload(ctx context.Context) (server.ReloadResult, error)
}

// watchConfiguration reloads the configuration whenever the file changes. The
// directory is watched rather than the file itself so that editors replacing
// the file on save are picked up as well.
func watchConfiguration(ctx context.Context, path string, r reloader) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch: failed to create watcher")
	}
	defer w.Close()

	dir, name := filepath.Split(path)
	if err := w.Add(filepath.Clean(dir)); err != nil {
		return errors.Wrap(err, "watch: failed to watch configuration directory")
	}
	log.WithField("path", path).Info("watching configuration file for changes")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithField("error", err).Warn("watch: error while watching configuration")
		case <-debounce:
			debounce = nil
			log.WithField("path", path).Info("configuration file changed, reloading")
			res, err := r.Reload(ctx)
			if err != nil {
				if errors.Is(err, server.ErrSupervisorStopped) {
					return nil
				}
				log.WithField("error", err).Error("failed to reload configuration")
				continue
			}
			logReload(res)
		}
	}
}
