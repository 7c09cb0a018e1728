package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"worldbridge/internal/event"
	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultQueueSize      = 256
	DefaultWriteTimeout   = 10 * time.Second
	DefaultCaptureTimeout = 5 * time.Second

	sinkWarningInterval = 30 * time.Second
)

// CaptureControl is started when the first visualization client connects
// and stopped when the last one leaves.
type CaptureControl interface {
	Start()
	Stop()
}

// Capturer answers on-demand terminal capture requests.
type Capturer interface {
	CaptureNow(ctx context.Context, lines int) (string, error)
	Session() string
}

// Sink receives every broadcast after connections have been served.
type Sink interface {
	Publish(ev event.Event, raw []byte) error
}

type Options struct {
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	Capture        CaptureControl
	Capturer       Capturer
	Version        string
	QueueSize      int
	WriteTimeout   time.Duration
	CaptureTimeout time.Duration
	Now            func() time.Time
}

// Hub keeps the two connection pools and fans every event out to both.
type Hub struct {
	logger         *logging.Logger
	metrics        *metrics.Registry
	capture        CaptureControl
	capturer       Capturer
	version        string
	writeTimeout   time.Duration
	captureTimeout time.Duration
	now            func() time.Time
	bus            *event.Bus[Frame]
	seq            atomic.Uint64

	sinkDropped     atomic.Int64
	lastSinkWarning atomic.Int64

	mu            sync.Mutex
	visualization map[string]*client
	automation    map[string]*client
	sinks         []Sink
	closed        bool

	// captureMu serializes pool transitions with the Start/Stop calls they
	// trigger.
	captureMu sync.Mutex
}

func New(options Options) *Hub {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	captureTimeout := options.CaptureTimeout
	if captureTimeout <= 0 {
		captureTimeout = DefaultCaptureTimeout
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	hubLogger := logger.Component("hub")
	return &Hub{
		logger:         hubLogger,
		metrics:        registry,
		capture:        options.Capture,
		capturer:       options.Capturer,
		version:        options.Version,
		writeTimeout:   writeTimeout,
		captureTimeout: captureTimeout,
		now:            now,
		bus: event.NewBus[Frame](context.Background(), event.BusOptions{
			Name:                 "hub",
			SubscriberBufferSize: queueSize,
			EvictOnFull:          true,
			Registry:             registry,
			Logger:               hubLogger,
		}),
		visualization: make(map[string]*client),
		automation:    make(map[string]*client),
	}
}

// AddSink registers a mirror for the broadcast stream.
func (h *Hub) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Broadcast stamps ev if needed and queues it on every open connection.
// It never blocks on a connection; a full queue drops and closes that
// connection only.
func (h *Hub) Broadcast(ev event.Event) {
	ev = ev.Stamped(h.now())
	seq := h.seq.Add(1)

	frame, err := buildFrame(ev, seq)
	if err != nil {
		h.logger.Error("broadcast encode failed", map[string]string{
			"type":  ev.Type(),
			"error": err.Error(),
		})
		return
	}

	delivered := h.bus.Publish(frame)
	h.metrics.ObserveBroadcast(seq)
	if h.logger.Enabled(logging.LevelDebug) {
		h.logger.Debug("broadcast", map[string]string{
			"type":      ev.Type(),
			"seq":       strconv.FormatUint(seq, 10),
			"delivered": strconv.Itoa(delivered),
			"summary":   ev.Describe(),
		})
	}

	h.mu.Lock()
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.Unlock()
	for _, sink := range sinks {
		h.publishToSink(sink, ev, frame.Raw)
	}
}

func (h *Hub) publishToSink(sink Sink, ev event.Event, raw []byte) {
	defer func() {
		if recovered := recover(); recovered != nil {
			h.logger.Error("sink panicked", map[string]string{"panic": fmt.Sprint(recovered)})
		}
	}()
	if err := sink.Publish(ev, raw); err != nil {
		h.sinkDropped.Add(1)
		h.metrics.IncMirrorDropped()
		h.maybeWarnSinkDrop(ev, err)
	}
}

// maybeWarnSinkDrop logs at most one warning per interval so a stalled
// mirror cannot flood the log.
func (h *Hub) maybeWarnSinkDrop(ev event.Event, err error) {
	now := time.Now()
	lastNanos := h.lastSinkWarning.Load()
	if lastNanos > 0 && now.Sub(time.Unix(0, lastNanos)) < sinkWarningInterval {
		return
	}
	if !h.lastSinkWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	h.logger.Warn("sink publish failed", map[string]string{
		"type":    ev.Type(),
		"error":   err.Error(),
		"dropped": strconv.FormatInt(h.sinkDropped.Load(), 10),
	})
}

// Counts returns the number of open visualization and automation clients.
func (h *Hub) Counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.visualization), len(h.automation)
}

// Clients lists open connections ordered by connect time.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	clients := make([]ClientInfo, 0, len(h.visualization)+len(h.automation))
	for _, c := range h.visualization {
		clients = append(clients, c.Info())
	}
	for _, c := range h.automation {
		clients = append(clients, c.Info())
	}
	h.mu.Unlock()
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})
	return clients
}

// Seq returns the sequence number of the latest broadcast.
func (h *Hub) Seq() uint64 {
	return h.seq.Load()
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.captureMu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.captureMu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.visualization)+len(h.automation))
	for _, c := range h.visualization {
		clients = append(clients, c)
	}
	for _, c := range h.automation {
		clients = append(clients, c)
	}
	hadViewers := len(h.visualization) > 0
	h.visualization = make(map[string]*client)
	h.automation = make(map[string]*client)
	h.mu.Unlock()

	if hadViewers && h.capture != nil {
		h.capture.Stop()
	}
	h.captureMu.Unlock()

	h.bus.Close()
	for _, c := range clients {
		c.close()
		h.metrics.ConnectionClosed(string(c.info.Kind))
	}
	h.logger.Info("hub closed", map[string]string{"clients": strconv.Itoa(len(clients))})
}

func (h *Hub) ServeVisualization(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindVisualization)
}

func (h *Hub) ServeAutomation(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindAutomation)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, kind Kind) {
	conn, err := upgradeWebSocket(w, r)
	if err != nil {
		logWSError(h.logger, r, "websocket upgrade failed", err)
		return
	}

	ctx, span := startWebSocketSpan(r, kind)
	defer span.End()

	c := &client{
		conn:         conn,
		direct:       make(chan []byte, directQueueSize),
		done:         make(chan struct{}),
		writeTimeout: h.writeTimeout,
		logger:       h.logger,
		info: ClientInfo{
			ID:          uuid.NewString(),
			Kind:        kind,
			ConnectedAt: h.now().UTC(),
			RemoteAddr:  r.RemoteAddr,
		},
	}
	if err := h.register(c); err != nil {
		logWSError(h.logger, r, "websocket rejected", err)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	go c.writeLoop()
	conn.SetReadLimit(wsReadLimit)

	handle := h.handleAutomation
	if kind == KindVisualization {
		handle = h.handleVisualization
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) && !errors.Is(err, websocket.ErrCloseSent) {
				select {
				case <-c.done:
				default:
					h.logger.Debug("websocket read ended", map[string]string{
						"client": c.info.ID,
						"error":  err.Error(),
					})
				}
			}
			return
		}
		handle(ctx, c, data)
	}
}

func (h *Hub) register(c *client) error {
	h.captureMu.Lock()
	defer h.captureMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is closed")
	}
	c.frames, c.unsubscribe = h.bus.Subscribe()
	pool := h.poolLocked(c.info.Kind)
	pool[c.info.ID] = c
	viewers, automation := len(h.visualization), len(h.automation)
	h.mu.Unlock()

	h.metrics.ConnectionOpened(string(c.info.Kind))
	h.logger.Info("client connected", map[string]string{
		"client":        c.info.ID,
		"kind":          string(c.info.Kind),
		"remote_addr":   c.info.RemoteAddr,
		"visualization": strconv.Itoa(viewers),
		"automation":    strconv.Itoa(automation),
	})

	if c.info.Kind == KindVisualization && viewers == 1 && h.capture != nil {
		h.capture.Start()
	}
	return nil
}

func (h *Hub) unregister(c *client) {
	h.captureMu.Lock()
	defer h.captureMu.Unlock()

	h.mu.Lock()
	pool := h.poolLocked(c.info.Kind)
	_, present := pool[c.info.ID]
	delete(pool, c.info.ID)
	viewers := len(h.visualization)
	h.mu.Unlock()

	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.close()
	if !present {
		return
	}

	info := c.Info()
	h.metrics.ConnectionClosed(string(info.Kind))
	h.logger.Info("client disconnected", map[string]string{
		"client":   info.ID,
		"kind":     string(info.Kind),
		"duration": durationField(h.now().Sub(info.ConnectedAt)),
	})

	if info.Kind == KindVisualization && viewers == 0 && h.capture != nil {
		h.capture.Stop()
	}
}

func (h *Hub) poolLocked(kind Kind) map[string]*client {
	if kind == KindVisualization {
		return h.visualization
	}
	return h.automation
}

func (h *Hub) handleAutomation(_ context.Context, c *client, data []byte) {
	ev, err := event.Decode(data)
	if err != nil {
		h.metrics.IncInboundRejected()
		h.logger.Warn("invalid automation message", map[string]string{
			"client": c.info.ID,
			"error":  err.Error(),
		})
		return
	}
	h.Broadcast(ev)
}

func (h *Hub) handleVisualization(ctx context.Context, c *client, data []byte) {
	envelope, err := decodeEnvelope(data)
	if err != nil || strings.TrimSpace(envelope.Event) == "" {
		h.metrics.IncInboundRejected()
		h.logger.Debug("invalid visualization message", map[string]string{"client": c.info.ID})
		return
	}

	switch envelope.Event {
	case EventClientReady:
		var ready clientReady
		h.decodeData(c, envelope, &ready)
		if ready.Version != "" {
			c.setVersion(ready.Version)
		}
		raw, err := event.Encode(event.NewConnectedEvent(h.version, h.now()))
		if err != nil {
			return
		}
		h.replyEnvelope(c, EventClaude, raw)
	case EventHeartbeat:
		h.replyEnvelope(c, EventHeartbeatAck, heartbeatAck{Timestamp: h.now().UnixMilli()})
	case EventTerminalCapture:
		var request captureRequest
		h.decodeData(c, envelope, &request)
		h.replyEnvelope(c, EventTerminalCapture, h.captureReply(ctx, request))
	default:
		h.logger.Debug("ignored visualization message", map[string]string{
			"client": c.info.ID,
			"event":  envelope.Event,
		})
	}
}

// decodeData reads the envelope data into target. Malformed data is logged
// and the request is still answered.
func (h *Hub) decodeData(c *client, envelope Envelope, target any) {
	if len(envelope.Data) == 0 {
		return
	}
	if err := codec.Unmarshal(envelope.Data, target); err != nil {
		h.logger.Debug("invalid visualization data", map[string]string{
			"client": c.info.ID,
			"event":  envelope.Event,
			"error":  err.Error(),
		})
	}
}

func (h *Hub) captureReply(ctx context.Context, request captureRequest) captureReply {
	if h.capturer == nil {
		return captureReply{Error: "terminal capture unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, h.captureTimeout)
	defer cancel()
	content, err := h.capturer.CaptureNow(ctx, request.Lines)
	if err != nil {
		return captureReply{Error: err.Error(), Session: h.capturer.Session()}
	}
	lines := 0
	if content != "" {
		lines = strings.Count(content, "\n") + 1
	}
	return captureReply{Content: content, Lines: lines, Session: h.capturer.Session()}
}

func (h *Hub) replyEnvelope(c *client, name string, data any) {
	encoded, err := encodeEnvelope(name, data)
	if err != nil {
		h.logger.Warn("reply encode failed", map[string]string{"event": name, "error": err.Error()})
		return
	}
	c.reply(encoded)
}
