package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"worldbridge/internal/event"
	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"

	"github.com/zeebo/xxh3"
)

const (
	DefaultInterval      = time.Second
	DefaultLines         = 50
	DefaultOnDemandLines = 200
	captureTimeout       = 5 * time.Second
)

var ErrSessionUnavailable = errors.New("tmux session unavailable")

// Source reads the contents of a terminal pane.
type Source interface {
	CapturePane(ctx context.Context, target string, lines int) ([]byte, error)
}

type Broadcaster interface {
	Broadcast(ev event.Event)
}

// BroadcastFunc adapts a plain function to Broadcaster.
type BroadcastFunc func(ev event.Event)

func (f BroadcastFunc) Broadcast(ev event.Event) {
	f(ev)
}

type Options struct {
	Source        Source
	Broadcaster   Broadcaster
	Session       string
	Interval      time.Duration
	Lines         int
	OnDemandLines int
	TailLines     int
	Enabled       bool
	Logger        *logging.Logger
	Metrics       *metrics.Registry
}

// State is what the pipeline remembers between ticks.
type State struct {
	LastSnapshot string
	Session      string
}

// Pipeline polls a tmux pane while at least one viewer is attached and
// broadcasts newly appeared assistant output.
type Pipeline struct {
	options Options
	logger  *logging.Logger
	metrics *metrics.Registry

	mu          sync.Mutex
	state       State
	hasSnapshot bool
	lastHash    uint64
	cancel      context.CancelFunc
}

func New(options Options) *Pipeline {
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}
	if options.Lines <= 0 {
		options.Lines = DefaultLines
	}
	if options.OnDemandLines <= 0 {
		options.OnDemandLines = DefaultOnDemandLines
	}
	if options.TailLines <= 0 {
		options.TailLines = DefaultTailLines
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	return &Pipeline{
		options: options,
		logger:  logger.Component("capture"),
		metrics: registry,
		state:   State{Session: options.Session},
	}
}

func (p *Pipeline) Enabled() bool {
	return p != nil && p.options.Enabled
}

func (p *Pipeline) Session() string {
	if p == nil {
		return ""
	}
	return p.options.Session
}

// Start launches the poll loop. It is a no-op when capture is disabled or
// the loop is already running.
func (p *Pipeline) Start() {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("capture started", map[string]string{
		"session":  p.options.Session,
		"interval": p.options.Interval.String(),
		"lines":    strconv.Itoa(p.options.Lines),
	})
	go p.loop(ctx)
}

// Stop cancels the poll loop. A capture already in flight still finishes
// and is broadcast.
func (p *Pipeline) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.logger.Info("capture stopped", map[string]string{"session": p.options.Session})
}

func (p *Pipeline) Running() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Snapshot returns a copy of the pipeline state.
func (p *Pipeline) Snapshot() State {
	if p == nil {
		return State{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CaptureNow reads a larger window of the pane for an explicit request. It
// does not change the remembered snapshot.
func (p *Pipeline) CaptureNow(ctx context.Context, lines int) (string, error) {
	if p == nil || p.options.Source == nil {
		return "", ErrSessionUnavailable
	}
	if lines <= 0 {
		lines = p.options.OnDemandLines
	}
	output, err := p.options.Source.CapturePane(ctx, p.options.Session, lines)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return Clean(normalize(output)), nil
}

func (p *Pipeline) loop(ctx context.Context) {
	ticker := time.NewTicker(p.options.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	if p.options.Source == nil {
		return
	}
	captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	output, err := p.options.Source.CapturePane(captureCtx, p.options.Session, p.options.Lines)
	cancel()
	if err != nil {
		p.metrics.RecordCaptureTick(err, false)
		p.logger.Debug("capture failed", map[string]string{
			"session": p.options.Session,
			"error":   err.Error(),
		})
		return
	}

	current := normalize(output)
	hash := xxh3.HashString(current)

	p.mu.Lock()
	previous := p.state.LastSnapshot
	unchanged := p.hasSnapshot && hash == p.lastHash
	p.state.LastSnapshot = current
	p.lastHash = hash
	p.hasSnapshot = true
	p.mu.Unlock()

	if unchanged {
		p.metrics.RecordCaptureTick(nil, false)
		return
	}

	fresh, _ := Diff(previous, current, p.options.TailLines)
	text := FilterNoise(strings.Split(fresh, "\n"))
	if text == "" {
		p.metrics.RecordCaptureTick(nil, false)
		return
	}
	if p.options.Broadcaster != nil {
		p.options.Broadcaster.Broadcast(event.NewTerminalOutputEvent(text))
	}
	p.metrics.RecordCaptureTick(nil, true)
	p.logger.Debug("capture emitted", map[string]string{
		"session": p.options.Session,
		"chars":   strconv.Itoa(len(text)),
	})
}

func normalize(output []byte) string {
	return strings.TrimRight(strings.ReplaceAll(string(output), "\r\n", "\n"), "\n")
}
