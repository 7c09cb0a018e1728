package event

import (
	"sync"
	"testing"
	"time"
)

// Recorder is a Broadcaster that keeps every event it is handed. Producers
// under test use it in place of the hub.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Broadcast(ev Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copyEvents := make([]Event, len(r.events))
	copy(copyEvents, r.events)
	return copyEvents
}

// OfType returns the recorded events of kind.
func (r *Recorder) OfType(kind Type) []Event {
	var matched []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			matched = append(matched, ev)
		}
	}
	return matched
}

// WaitFor blocks until at least count events are recorded or fails the test.
func (r *Recorder) WaitFor(t *testing.T, count int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		events := r.Events()
		if len(events) >= count {
			return events
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			t.Fatalf("timed out waiting for %d events, got %d", count, len(events))
			return nil
		}
	}
}

// ReceiveWithTimeout waits for a single value or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return value
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for value after %s", timeout)
	}
	var zero T
	return zero
}
