// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Watcher reports shader programs whose source or compiled modules
// changed on disk. Changes are delivered on a channel so that the render
// loop can reload between frames.
type Watcher struct {
	watcher *fsnotify.Watcher
	changes chan string
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	programs map[string]string
}

// NewWatcher starts watching for changes.
func NewWatcher() (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "shader watcher")
	}

	w := &Watcher{
		watcher:  fw,
		changes:  make(chan string, 16),
		done:     make(chan struct{}),
		programs: make(map[string]string),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Watch adds the program whose source lives at file. The program is
// reported by the name passed here, typically its path in an asset source.
func (w *Watcher) Watch(name, file string) error {
	dir := filepath.Dir(file)
	if err := w.watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	w.mu.Lock()
	w.programs[programKey(file)] = name
	w.mu.Unlock()
	return nil
}

// Changes returns the channel program names are reported on.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// programKey strips the extensions of source and module files alike, so
// that test.shader and test.vert.spv map to the same program.
func programKey(file string) string {
	dir, base := filepath.Split(filepath.Clean(file))
	if idx := strings.Index(base, "."); idx >= 0 {
		base = base[:idx]
	}
	return filepath.Join(dir, base)
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			w.mu.Lock()
			name, ok := w.programs[programKey(event.Name)]
			w.mu.Unlock()
			if !ok {
				continue
			}
			select {
			case w.changes <- name:
			default:
				log.WithField("shader", name).Warn("shader change dropped, reload queue full")
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("shader watcher")
		}
	}
}
