package signals

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names inside the signals directory.
const (
	StopFile  = "stop"
	PauseFile = "pause"
)

// DefaultDir returns the project-local signals directory.
func DefaultDir(root string) string {
	return filepath.Join(root, ".crowdom", "signals")
}

// Watcher drives a PauseController from signal files: creating "stop" stops
// it, creating "pause" pauses it and removing "pause" resumes it.
type Watcher struct {
	dir     string
	ctrl    *PauseController
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching dir. The current files are applied immediately.
// Without fsnotify support the files are only read by Sync.
func Watch(dir string, ctrl *PauseController) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	w := &Watcher{dir: dir, ctrl: ctrl, done: make(chan struct{})}
	w.Sync()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case StopFile:
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					w.ctrl.Stop()
				}
			case PauseFile:
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					w.ctrl.Pause()
				} else if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					w.ctrl.Resume()
				}
			}
		case <-w.watcher.Errors:
			// keep watching
		}
	}
}

// Sync applies the signal files currently on disk, in case the watcher missed an event.
func (w *Watcher) Sync() {
	if _, err := os.Stat(filepath.Join(w.dir, StopFile)); err == nil {
		w.ctrl.Stop()
	}
	if _, err := os.Stat(filepath.Join(w.dir, PauseFile)); err == nil {
		w.ctrl.Pause()
	} else if w.ctrl.IsPaused() {
		w.ctrl.Resume()
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Send creates a signal file in dir.
func Send(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes all signal files from dir.
func Clear(dir string) {
	os.Remove(filepath.Join(dir, StopFile))
	os.Remove(filepath.Join(dir, PauseFile))
}
