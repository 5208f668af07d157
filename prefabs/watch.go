package prefabs

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change reports an edited prefab or script.
type Change struct {
	// Path is the file path as reported by the OS.
	Path string
	// Name is the path relative to the watched directory, slash separated,
	// in the form Load and LoadScript accept.
	Name   string
	Script bool
}

// Watcher turns filesystem notifications under prefab directories into
// debounced Change events.
type Watcher struct {
	watcher  *fsnotify.Watcher
	roots    []string
	debounce time.Duration
	Events   chan Change
	Errors   chan error
	closeCh  chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewWatcher watches each dir and its scripts/ subdirectory when present.
func NewWatcher(dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var roots []string
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
		roots = append(roots, filepath.Clean(dir))
		// scripts/ is optional
		_ = w.Add(filepath.Join(dir, "scripts"))
	}

	watcher := &Watcher{
		watcher:  w,
		roots:    roots,
		debounce: 100 * time.Millisecond,
		Events:   make(chan Change, 16),
		Errors:   make(chan error, 1),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		<-w.done
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	last := make(map[string]time.Time)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			script := isScriptFile(event.Name)
			if !isSpecFile(event.Name) && !script {
				continue
			}
			now := time.Now()
			if t, ok := last[event.Name]; ok && now.Sub(t) < w.debounce {
				continue
			}
			last[event.Name] = now
			change := Change{Path: event.Name, Name: w.relative(event.Name), Script: script}
			select {
			case w.Events <- change:
			case <-w.closeCh:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.Errors <- err:
			default:
			}
		case <-w.closeCh:
			return
		}
	}
}

func (w *Watcher) relative(path string) string {
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}

func isSpecFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isScriptFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".tengo"
}
