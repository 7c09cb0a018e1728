package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

type callbackEntry struct {
	id       uint64
	callback func(Event)
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch calls callback after changes to the file at path settle. The file
// must exist when the watch is registered.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.New("path is a directory")
	}
	dir := filepath.Dir(absolute)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, errors.New("watcher is closed")
	}
	needsAdd := watcher.dirs[dir] == 0
	watcher.nextID++
	entry := callbackEntry{id: watcher.nextID, callback: callback}
	if _, ok := watcher.callbacks[absolute]; !ok {
		watcher.dirs[dir]++
	}
	watcher.callbacks[absolute] = append(watcher.callbacks[absolute], entry)
	watcher.mutex.Unlock()

	if needsAdd {
		if err := watcher.watcher.Add(dir); err != nil {
			watcher.removeCallback(absolute, entry.id)
			watcher.logger.Warn("watch add failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
			return nil, err
		}
		watcher.logger.Debug("watch added", map[string]string{"path": absolute})
	}

	return &watchHandle{watcher: watcher, path: absolute, id: entry.id}, nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	dir := filepath.Dir(path)
	removeDir := false

	watcher.mutex.Lock()
	callbacks := watcher.callbacks[path]
	for index, candidate := range callbacks {
		if candidate.id == id {
			callbacks = append(callbacks[:index], callbacks[index+1:]...)
			break
		}
	}
	if len(callbacks) == 0 {
		if _, ok := watcher.callbacks[path]; ok {
			delete(watcher.callbacks, path)
			watcher.dirs[dir]--
			if watcher.dirs[dir] <= 0 {
				delete(watcher.dirs, dir)
				removeDir = !watcher.closed
			}
		}
	} else {
		watcher.callbacks[path] = callbacks
	}
	watcher.mutex.Unlock()

	if removeDir {
		if err := watcher.watcher.Remove(dir); err != nil {
			watcher.logger.Warn("watch remove failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
			return err
		}
		watcher.logger.Debug("watch removed", map[string]string{"path": path})
	}
	return nil
}

func (watcher *Watcher) callbacksForPathLocked(path string) []func(Event) {
	entries := watcher.callbacks[path]
	out := make([]func(Event), 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.callback)
	}
	return out
}
