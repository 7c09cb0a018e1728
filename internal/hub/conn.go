package hub

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"worldbridge/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsReadLimit       = 1 << 20
	directQueueSize   = 16
)

// Kind says which pool a connection belongs to.
type Kind string

const (
	KindVisualization Kind = "visualization"
	KindAutomation    Kind = "automation"
)

// ClientInfo describes one open connection.
type ClientInfo struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	ConnectedAt time.Time `json:"connectedAt"`
	Version     string    `json:"version,omitempty"`
	RemoteAddr  string    `json:"remoteAddr,omitempty"`
}

type client struct {
	conn         *websocket.Conn
	frames       <-chan Frame
	unsubscribe  func()
	direct       chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	logger       *logging.Logger

	mu   sync.Mutex
	info ClientInfo
}

func (c *client) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *client) setVersion(version string) {
	c.mu.Lock()
	c.info.Version = version
	c.mu.Unlock()
}

// close is safe to call from any goroutine and more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// reply queues data for this connection only. It never blocks.
func (c *client) reply(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.direct <- data:
		return true
	default:
		c.logger.Warn("reply dropped", map[string]string{"client": c.info.ID})
		return false
	}
}

// writeLoop owns every write to the socket. A closed frames channel means
// the connection was evicted or the hub shut down.
func (c *client) writeLoop() {
	defer c.close()
	kind := c.Info().Kind
	for {
		select {
		case frame, ok := <-c.frames:
			if !ok {
				return
			}
			if kind == KindAutomation {
				if !c.write(frame.Raw) {
					return
				}
				continue
			}
			for _, envelope := range frame.Envelopes {
				if !c.write(envelope) {
					return
				}
			}
		case data := <-c.direct:
			if !c.write(data) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write failed", map[string]string{
			"client": c.info.ID,
			"error":  err.Error(),
		})
		return false
	}
	return true
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

func logWSError(logger *logging.Logger, r *http.Request, message string, err error) {
	if logger == nil || r == nil {
		return
	}
	fields := map[string]string{
		"path":    r.URL.Path,
		"message": message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if userAgent := strings.TrimSpace(r.UserAgent()); userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logger.Warn("websocket error", fields)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

func durationField(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
