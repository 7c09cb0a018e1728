package watcher

import (
	"sync"
	"time"

	"worldbridge/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single debounced change to a watched file.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for changes to a file.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

type Options struct {
	Logger   *logging.Logger
	Debounce time.Duration
}

// Watcher watches files through their parent directories so that editors
// replacing a file by rename are still observed.
type Watcher struct {
	watcher         *fsnotify.Watcher
	mutex           sync.Mutex
	callbacks       map[string][]callbackEntry
	dirs            map[string]int
	debouncer       *debouncer
	events          chan fsnotify.Event
	errors          chan error
	done            chan struct{}
	closed          bool
	logger          *logging.Logger
	nextID          uint64
	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

type Metrics struct {
	WatchedFiles    int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
}
