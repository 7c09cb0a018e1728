package metrics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWritePrometheusIncludesLabeledCounters(t *testing.T) {
	registry := &Registry{}
	registry.IncEventPublished("hub", "tool_use")
	registry.IncEventPublished("hub", "tool_use")
	registry.IncEventDropped("hub", "claude_output")
	registry.ConnectionOpened("visualization")
	registry.ObserveBroadcast(7)
	registry.SetEventSubscribers("hub", 3)
	registry.IncMirrorDropped()

	var out bytes.Buffer
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write prometheus: %v", err)
	}
	text := out.String()

	expected := []string{
		`worldbridge_events_published_total{bus="hub",type="tool_use"} 2`,
		`worldbridge_events_dropped_total{bus="hub",type="claude_output"} 1`,
		`worldbridge_connections_open{kind="visualization"} 1`,
		`worldbridge_broadcast_sequence 7`,
		`worldbridge_bus_subscribers{bus="hub"} 3`,
		`worldbridge_mirror_dropped_total 1`,
		"# TYPE worldbridge_capture_ticks_total counter",
	}
	for _, want := range expected {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestConnectionGaugeTracksOpenAndClose(t *testing.T) {
	registry := &Registry{}
	registry.ConnectionOpened("automation")
	registry.ConnectionOpened("automation")
	registry.ConnectionClosed("automation")

	if got := registry.OpenConnections("automation"); got != 1 {
		t.Fatalf("expected 1 open connection, got %d", got)
	}
}

func TestCaptureAndInjectionCounters(t *testing.T) {
	registry := &Registry{}
	registry.RecordCaptureTick(nil, true)
	registry.RecordCaptureTick(nil, false)
	registry.RecordCaptureTick(errors.New("no session"), false)
	registry.RecordInjection(nil)
	registry.RecordInjection(errors.New("tmux missing"))

	ticks, failures, emitted := registry.CaptureTicks()
	if ticks != 3 || failures != 1 || emitted != 1 {
		t.Fatalf("unexpected capture counters: ticks=%d failures=%d emitted=%d", ticks, failures, emitted)
	}
	ok, failed := registry.Injections()
	if ok != 1 || failed != 1 {
		t.Fatalf("unexpected injection counters: ok=%d failed=%d", ok, failed)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncEventPublished("hub", "x")
	registry.RecordInjection(nil)
	if registry.BroadcastSeq() != 0 {
		t.Fatal("expected zero sequence from nil registry")
	}
}

func TestFormatLabelEscapes(t *testing.T) {
	if got := formatLabel("a\"b\\c"); got != `"a\"b\\c"` {
		t.Fatalf("unexpected escape: %s", got)
	}
}
