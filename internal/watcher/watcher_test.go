package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	watcher, err := NewWithOptions(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = watcher.Close() })
	return watcher
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return path
}

func collect(events chan Event) func(Event) {
	return func(event Event) {
		select {
		case events <- event:
		default:
		}
	}
}

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher := newTestWatcher(t)
	path := writeTempFile(t, "registry.yaml", "tools: []\n")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, collect(events))
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(path, []byte("tools: [{name: x}]\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestWatcherSeesReplaceByRename(t *testing.T) {
	watcher := newTestWatcher(t)
	path := writeTempFile(t, "registry.yaml", "a")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, collect(events))
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	staged := filepath.Join(filepath.Dir(path), "registry.yaml.tmp")
	if err := os.WriteFile(staged, []byte("b"), 0o600); err != nil {
		t.Fatalf("write staged: %v", err)
	}
	if err := os.Rename(staged, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, ok := waitForEvent(events); !ok {
		t.Fatal("timed out waiting for rename event")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	watcher := newTestWatcher(t)
	path := writeTempFile(t, "registry.yaml", "a")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, collect(events))
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected event for %q", event.Path)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherHandleCloseStopsDelivery(t *testing.T) {
	watcher := newTestWatcher(t)
	path := writeTempFile(t, "registry.yaml", "a")

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, collect(events))
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if got := watcher.Metrics().WatchedFiles; got != 0 {
		t.Fatalf("expected no watched files, got %d", got)
	}

	if err := os.WriteFile(path, []byte("b"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	select {
	case <-events:
		t.Fatal("unexpected event after handle close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchValidation(t *testing.T) {
	watcher := newTestWatcher(t)
	if _, err := watcher.Watch("", func(Event) {}); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := watcher.Watch(filepath.Join(t.TempDir(), "missing"), func(Event) {}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); err == nil {
		t.Fatal("expected error for directory")
	}
	path := writeTempFile(t, "x", "")
	if _, err := watcher.Watch(path, nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
	_ = watcher.Close()
	if _, err := watcher.Watch(path, func(Event) {}); err == nil {
		t.Fatal("expected error after close")
	}
}

func waitForEvent(events <-chan Event) (Event, bool) {
	select {
	case event := <-events:
		return event, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}
