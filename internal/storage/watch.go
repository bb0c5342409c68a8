package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/cliagent/internal/logging"
)

// Watcher reports items created or removed in one storage directory,
// including changes made by other processes sharing the data directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	onEvent func(key string)
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// Watch starts watching the directory at path. onEvent is called with the
// item key for every JSON file that is created, renamed into place or removed.
func (s *Storage) Watch(path []string, onEvent func(key string)) (*Watcher, error) {
	dir := s.pathToDir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		dir:     dir,
		onEvent: onEvent,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("storage-watcher")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.onEvent(strings.TrimSuffix(name, ".json"))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", w.dir).Msg("watch error")
		}
	}
}

// Close stops the watcher and waits for it to finish.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.doneCh
	})
	return err
}
