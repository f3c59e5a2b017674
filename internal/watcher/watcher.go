// Package watcher reloads the daemon configuration when the YAML file
// changes on disk.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/strxno/ha-laddel/internal/config"
)

const debounceDelay = 500 * time.Millisecond

// ReloadFunc receives the freshly parsed configuration.
type ReloadFunc func(cfg *config.Config)

// Watcher watches one config file. Editors produce bursts of write/rename
// events, so reloads are debounced.
type Watcher struct {
	configPath string
	onReload   ReloadFunc

	mu    sync.Mutex
	timer *time.Timer
}

func New(configPath string, onReload ReloadFunc) *Watcher {
	return &Watcher{configPath: configPath, onReload: onReload}
}

// Start watches until ctx is cancelled. The parent directory is watched
// rather than the file itself so atomic-rename saves keep working.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsWatcher.Close() }()

	if err = fsWatcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	log.Debugf("watching config file: %s", w.configPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case errWatch, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}
	log.Infof("config file reloaded: %s", w.configPath)
	w.onReload(cfg)
}
