package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path string
	w    *fsnotify.Watcher
}

// NewWatcher starts watching path. The parent directory is watched so
// editors that replace the file by rename are still seen.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{path: filepath.Clean(path), w: w}, nil
}

// Run calls fn with each successfully reloaded config until ctx is done.
// Edits that fail to load are logged and skipped.
func (cw *Watcher) Run(ctx context.Context, fn func(Config)) error {
	defer cw.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-cw.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(cw.path)
			if err != nil {
				log.Warn().Str("path", cw.path).Err(err).Msg("config reload skipped")
				continue
			}
			log.Info().Str("path", cw.path).Msg("config reloaded")
			fn(cfg)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Str("path", cw.path).Err(err).Msg("config watch error")
		}
	}
}
