package mirror

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"worldbridge/internal/event"
	"worldbridge/internal/logging"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	DefaultTopic          = "worldbridge/events"
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

var ErrQueueFull = errors.New("mirror queue full")

// publisher is the part of mqtt.Client the mirror needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Options struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	QueueSize      int
	PublishTimeout time.Duration
	Logger         *logging.Logger
}

type message struct {
	topic   string
	payload []byte
}

// Mirror republishes every broadcast event to an MQTT broker, one topic per
// event type under the configured prefix. Publishing happens on its own
// goroutine; when the queue is full the event is dropped.
type Mirror struct {
	client  mqtt.Client
	pub     publisher
	topic   string
	qos     byte
	timeout time.Duration
	logger  *logging.Logger
	queue   chan message
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// Connect dials the broker and starts the publish loop.
func Connect(options Options) (*Mirror, error) {
	broker, err := normalizeBroker(options.Broker)
	if err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("mirror")

	clientID := options.ClientID
	if clientID == "" {
		clientID = "worldbridge-" + uuid.NewString()[:8]
	}
	clientOptions := mqtt.NewClientOptions()
	clientOptions.AddBroker(broker)
	clientOptions.SetClientID(clientID)
	clientOptions.SetKeepAlive(60 * time.Second)
	clientOptions.SetPingTimeout(10 * time.Second)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetAutoReconnect(true)
	clientOptions.SetMaxReconnectInterval(time.Minute)
	clientOptions.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt connected", map[string]string{"broker": broker})
	})
	clientOptions.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", map[string]string{"broker": broker, "error": err.Error()})
	})

	client := mqtt.NewClient(clientOptions)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}

	m := newMirror(client, options, logger)
	m.client = client
	return m, nil
}

func newMirror(pub publisher, options Options, logger *logging.Logger) *Mirror {
	topic := strings.Trim(strings.TrimSpace(options.Topic), "/")
	if topic == "" {
		topic = DefaultTopic
	}
	queueSize := options.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := options.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Mirror{
		pub:     pub,
		topic:   topic,
		qos:     options.QoS,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan message, queueSize),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Publish queues raw for delivery under <topic>/<event type>.
func (m *Mirror) Publish(ev event.Event, raw []byte) error {
	if m == nil {
		return nil
	}
	select {
	case <-m.done:
		return errors.New("mirror closed")
	default:
	}
	msg := message{topic: m.topicFor(ev), payload: append([]byte(nil), raw...)}
	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Mirror) topicFor(ev event.Event) string {
	kind := strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(ev.Type())
	if kind == "" {
		kind = "unknown"
	}
	return m.topic + "/" + kind
}

func (m *Mirror) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.queue:
			m.send(msg)
		case <-m.done:
			return
		}
	}
}

func (m *Mirror) send(msg message) {
	token := m.pub.Publish(msg.topic, m.qos, false, msg.payload)
	if !token.WaitTimeout(m.timeout) {
		m.logger.Warn("mqtt publish timed out", map[string]string{"topic": msg.topic})
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("mqtt publish failed", map[string]string{"topic": msg.topic, "error": err.Error()})
	}
}

// Close stops the publish loop and disconnects from the broker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.done)
		m.wg.Wait()
		if m.client != nil {
			m.client.Disconnect(disconnectQuiesceMs)
		}
	})
}

// normalizeBroker accepts host, host:port or a full URL.
func normalizeBroker(broker string) (string, error) {
	broker = strings.TrimSpace(broker)
	if broker == "" {
		return "", errors.New("mqtt broker is required")
	}
	scheme := "tcp"
	if index := strings.Index(broker, "://"); index >= 0 {
		scheme = broker[:index]
		broker = broker[index+3:]
	}
	if broker == "" {
		return "", errors.New("mqtt broker host is required")
	}
	if _, _, err := net.SplitHostPort(broker); err != nil {
		broker = net.JoinHostPort(broker, "1883")
	}
	return scheme + "://" + broker, nil
}
