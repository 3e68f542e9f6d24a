package backend

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function once a burst of filesystem events on a source has been quiet for
// the debounce interval.
type Watcher struct {
	w        *fsnotify.Watcher
	source   string
	debounce time.Duration
	onChange func()

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// Watch starts watching source, a directory or a single file.
func Watch(source string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := source
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		// Editors replace files by renaming over them, so a file is watched through its directory.
		dir = filepath.Dir(source)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		w:        fw,
		source:   filepath.Clean(source),
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop(dir != source)
	return w, nil
}

func (w *Watcher) loop(fileSource bool) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if fileSource && filepath.Clean(ev.Name) != w.source {
				continue
			}
			if !fileSource && !IsImage(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Chmod) && !ev.Op.Has(fsnotify.Write) {
				continue
			}
			w.arm()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "source", w.source, "err", err)
		}
	}
}

func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.onChange()
	}
}

// Close stops watching. Pending notifications are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.w.Close()
	<-w.done
	return err
}
