package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	broadcastSeq     atomic.Uint64
	captureTicks     atomic.Int64
	captureFailures  atomic.Int64
	captureEmitted   atomic.Int64
	injectionsOK     atomic.Int64
	injectionsFailed atomic.Int64
	registryUpserts  atomic.Int64
	inboundRejected  atomic.Int64
	mirrorDropped    atomic.Int64
	published        sync.Map
	dropped          sync.Map
	connectionsOpen  sync.Map
	connectionsTotal sync.Map
	subscribers      sync.Map
	logEntries       sync.Map
}

var Default = &Registry{}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.counter(&r.published, labelKey(bus, eventType)).Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.counter(&r.dropped, labelKey(bus, eventType)).Add(1)
}

func (r *Registry) SetEventSubscribers(bus string, count int) {
	if r == nil {
		return
	}
	r.counter(&r.subscribers, labelKey(bus)).Store(int64(count))
}

// ObserveBroadcast records the latest broadcast sequence number.
func (r *Registry) ObserveBroadcast(seq uint64) {
	if r == nil {
		return
	}
	r.broadcastSeq.Store(seq)
}

func (r *Registry) ConnectionOpened(kind string) {
	if r == nil {
		return
	}
	r.counter(&r.connectionsOpen, kind).Add(1)
	r.counter(&r.connectionsTotal, kind).Add(1)
}

func (r *Registry) ConnectionClosed(kind string) {
	if r == nil {
		return
	}
	r.counter(&r.connectionsOpen, kind).Add(-1)
}

func (r *Registry) IncInboundRejected() {
	if r == nil {
		return
	}
	r.inboundRejected.Add(1)
}

// IncMirrorDropped counts events the mirror sink refused.
func (r *Registry) IncMirrorDropped() {
	if r == nil {
		return
	}
	r.mirrorDropped.Add(1)
}

func (r *Registry) RecordCaptureTick(err error, emitted bool) {
	if r == nil {
		return
	}
	r.captureTicks.Add(1)
	if err != nil {
		r.captureFailures.Add(1)
		return
	}
	if emitted {
		r.captureEmitted.Add(1)
	}
}

func (r *Registry) RecordInjection(err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.injectionsFailed.Add(1)
		return
	}
	r.injectionsOK.Add(1)
}

func (r *Registry) IncRegistryUpsert() {
	if r == nil {
		return
	}
	r.registryUpserts.Add(1)
}

func (r *Registry) IncLogEntry(level string) {
	if r == nil {
		return
	}
	r.counter(&r.logEntries, level).Add(1)
}

// Snapshot values used by tests and the health summary.
func (r *Registry) Published(bus, eventType string) int64 {
	if r == nil {
		return 0
	}
	return r.load(&r.published, labelKey(bus, eventType))
}

func (r *Registry) Dropped(bus, eventType string) int64 {
	if r == nil {
		return 0
	}
	return r.load(&r.dropped, labelKey(bus, eventType))
}

func (r *Registry) OpenConnections(kind string) int64 {
	if r == nil {
		return 0
	}
	return r.load(&r.connectionsOpen, kind)
}

func (r *Registry) CaptureTicks() (ticks, failures, emitted int64) {
	if r == nil {
		return 0, 0, 0
	}
	return r.captureTicks.Load(), r.captureFailures.Load(), r.captureEmitted.Load()
}

func (r *Registry) Injections() (ok, failed int64) {
	if r == nil {
		return 0, 0
	}
	return r.injectionsOK.Load(), r.injectionsFailed.Load()
}

func (r *Registry) BroadcastSeq() uint64 {
	if r == nil {
		return 0
	}
	return r.broadcastSeq.Load()
}

func (r *Registry) InboundRejected() int64 {
	if r == nil {
		return 0
	}
	return r.inboundRejected.Load()
}

func (r *Registry) MirrorDropped() int64 {
	if r == nil {
		return 0
	}
	return r.mirrorDropped.Load()
}

func (r *Registry) RegistryUpserts() int64 {
	if r == nil {
		return 0
	}
	return r.registryUpserts.Load()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeGauge(writer, "worldbridge_broadcast_sequence", "Sequence number of the latest broadcast", int64(r.broadcastSeq.Load()))
	writeCounter(writer, "worldbridge_capture_ticks_total", "Capture poll ticks", r.captureTicks.Load())
	writeCounter(writer, "worldbridge_capture_failures_total", "Capture ticks skipped because the pane could not be read", r.captureFailures.Load())
	writeCounter(writer, "worldbridge_capture_emitted_total", "Terminal output events emitted by capture", r.captureEmitted.Load())
	writeCounter(writer, "worldbridge_injections_total", "Prompts delivered to the terminal", r.injectionsOK.Load())
	writeCounter(writer, "worldbridge_injection_failures_total", "Prompt deliveries that failed", r.injectionsFailed.Load())
	writeCounter(writer, "worldbridge_registry_upserts_total", "Registry upserts", r.registryUpserts.Load())
	writeCounter(writer, "worldbridge_inbound_rejected_total", "Inbound realtime messages dropped as malformed", r.inboundRejected.Load())
	writeCounter(writer, "worldbridge_mirror_dropped_total", "Events the mirror sink refused", r.mirrorDropped.Load())

	writeLabeled(writer, "worldbridge_events_published_total", "Events published per bus and type", "counter", []string{"bus", "type"}, &r.published)
	writeLabeled(writer, "worldbridge_events_dropped_total", "Events dropped per bus and type", "counter", []string{"bus", "type"}, &r.dropped)
	writeLabeled(writer, "worldbridge_bus_subscribers", "Current bus subscribers", "gauge", []string{"bus"}, &r.subscribers)
	writeLabeled(writer, "worldbridge_connections_open", "Open realtime connections", "gauge", []string{"kind"}, &r.connectionsOpen)
	writeLabeled(writer, "worldbridge_connections_total", "Realtime connections accepted", "counter", []string{"kind"}, &r.connectionsTotal)
	writeLabeled(writer, "worldbridge_log_entries_total", "Log entries per level", "counter", []string{"level"}, &r.logEntries)
	return nil
}

func (r *Registry) counter(store *sync.Map, key string) *atomic.Int64 {
	value, _ := store.LoadOrStore(key, &atomic.Int64{})
	return value.(*atomic.Int64)
}

func (r *Registry) load(store *sync.Map, key string) int64 {
	value, ok := store.Load(key)
	if !ok {
		return 0
	}
	return value.(*atomic.Int64).Load()
}

const labelSeparator = "\x00"

func labelKey(values ...string) string {
	for i, value := range values {
		if strings.TrimSpace(value) == "" {
			values[i] = "unknown"
		}
	}
	return strings.Join(values, labelSeparator)
}

func writeLabeled(writer io.Writer, metric, help, kind string, labels []string, store *sync.Map) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s %s\n", metric, kind)

	type sample struct {
		key   string
		value int64
	}
	var samples []sample
	store.Range(func(key, value any) bool {
		samples = append(samples, sample{key: key.(string), value: value.(*atomic.Int64).Load()})
		return true
	})
	sort.Slice(samples, func(i, j int) bool { return samples[i].key < samples[j].key })

	for _, s := range samples {
		values := strings.Split(s.key, labelSeparator)
		pairs := make([]string, 0, len(labels))
		for i, label := range labels {
			if i >= len(values) {
				break
			}
			pairs = append(pairs, fmt.Sprintf("%s=%s", label, formatLabel(values[i])))
		}
		fmt.Fprintf(writer, "%s{%s} %d\n", metric, strings.Join(pairs, ","), s.value)
	}
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	escaped = strings.ReplaceAll(escaped, "\n", "\\n")
	return fmt.Sprintf("\"%s\"", escaped)
}
