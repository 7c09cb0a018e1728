package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"worldbridge/internal/api"
	"worldbridge/internal/capture"
	"worldbridge/internal/config"
	"worldbridge/internal/event"
	"worldbridge/internal/hub"
	"worldbridge/internal/inject"
	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"
	"worldbridge/internal/mirror"
	"worldbridge/internal/registry"
	"worldbridge/internal/tmux"
	"worldbridge/internal/version"
	"worldbridge/internal/watcher"
)

type servicesOptions struct {
	Metrics       *metrics.Registry
	Runner        tmux.CommandRunner
	Now           func() time.Time
	WatchDebounce time.Duration
	ConnectMirror func(mirror.Options) (*mirror.Mirror, error)
}

// services is the wired bridge: every component plus the HTTP handler that
// fronts them.
type services struct {
	config    config.Config
	logger    *logging.Logger
	metrics   *metrics.Registry
	registry  *registry.Registry
	hub       *hub.Hub
	capture   *capture.Pipeline
	injector  *inject.Injector
	mirror    *mirror.Mirror
	terminal  *tmux.Client
	watcher   *watcher.Watcher
	seedWatch watcher.Handle
	handler   http.Handler
	startedAt time.Time
}

func newServices(cfg config.Config, logger *logging.Logger, options servicesOptions) (*services, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	if options.Runner == nil {
		options.Runner = tmux.ExecRunner()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.ConnectMirror == nil {
		options.ConnectMirror = mirror.Connect
	}
	buildVersion := version.Get().Version

	svc := &services{
		config:    cfg,
		logger:    logger,
		metrics:   options.Metrics,
		registry:  registry.NewWithDefaults().WithMetrics(options.Metrics),
		startedAt: options.Now(),
	}

	if cfg.RegistryFile != "" {
		count, err := svc.registry.LoadSeedFile(cfg.RegistryFile)
		if err != nil {
			return nil, err
		}
		logger.Info("registry seeded", map[string]string{
			"path":    cfg.RegistryFile,
			"entries": strconv.Itoa(count),
		})
	}

	terminal := tmux.NewClientWithRunner(options.Runner)
	svc.terminal = terminal

	// The pipeline only broadcasts once the hub has started it.
	var bridge *hub.Hub
	relay := capture.BroadcastFunc(func(ev event.Event) {
		bridge.Broadcast(ev)
	})
	svc.capture = capture.New(capture.Options{
		Source:        terminal,
		Broadcaster:   relay,
		Session:       cfg.Session,
		Interval:      cfg.Capture.Interval,
		Lines:         cfg.Capture.Lines,
		OnDemandLines: cfg.Capture.OnDemandLines,
		TailLines:     cfg.Capture.TailLines,
		Enabled:       cfg.Capture.Enabled,
		Logger:        logger,
		Metrics:       options.Metrics,
	})
	bridge = hub.New(hub.Options{
		Logger:   logger,
		Metrics:  options.Metrics,
		Capture:  svc.capture,
		Capturer: svc.capture,
		Version:  buildVersion,
		Now:      options.Now,
	})
	svc.hub = bridge

	svc.injector = inject.New(inject.Options{
		Terminal:   terminal,
		Session:    cfg.Session,
		EnterDelay: cfg.EnterDelay,
		Logger:     logger,
		Metrics:    options.Metrics,
	})

	if cfg.Mirror.Broker != "" {
		sink, err := options.ConnectMirror(mirror.Options{
			Broker: cfg.Mirror.Broker,
			Topic:  cfg.Mirror.Topic,
			Logger: logger,
		})
		if err != nil {
			logger.Warn("mqtt mirror disabled", map[string]string{
				"broker": cfg.Mirror.Broker,
				"error":  err.Error(),
			})
		} else {
			svc.mirror = sink
			bridge.AddSink(sink)
		}
	}

	if cfg.RegistryFile != "" {
		if err := svc.watchSeed(options.WatchDebounce); err != nil {
			logger.Warn("registry seed watch disabled", map[string]string{
				"path":  cfg.RegistryFile,
				"error": err.Error(),
			})
		}
	}

	svc.handler = api.NewHandler(api.Options{
		Hub:       bridge,
		Registry:  svc.registry,
		Injector:  svc.injector,
		Capture:   svc.capture,
		Metrics:   options.Metrics,
		Logger:    logger,
		Session:   cfg.Session,
		Version:   buildVersion,
		StartedAt: svc.startedAt,
		Now:       options.Now,
	})
	return svc, nil
}

// checkSession warns when the configured tmux session is missing. The bridge
// still starts; capture and prompts recover once the session appears.
func (s *services) checkSession(ctx context.Context) bool {
	ok, err := s.terminal.HasSession(ctx, s.config.Session)
	if err != nil {
		s.logger.Warn("tmux unavailable", map[string]string{
			"session": s.config.Session,
			"error":   err.Error(),
		})
		return false
	}
	if !ok {
		s.logger.Warn("tmux session not found", map[string]string{
			"session": s.config.Session,
		})
	}
	return ok
}

// watchSeed reloads the registry seed file on change and broadcasts the
// resulting registry.
func (s *services) watchSeed(debounce time.Duration) error {
	fileWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:   s.logger,
		Debounce: debounce,
	})
	if err != nil {
		return err
	}
	handle, err := fileWatcher.Watch(s.config.RegistryFile, func(watcher.Event) {
		s.reloadSeed()
	})
	if err != nil {
		_ = fileWatcher.Close()
		return err
	}
	s.watcher = fileWatcher
	s.seedWatch = handle
	return nil
}

func (s *services) reloadSeed() {
	count, err := s.registry.LoadSeedFile(s.config.RegistryFile)
	if err != nil {
		s.logger.Warn("registry seed reload failed", map[string]string{
			"path":  s.config.RegistryFile,
			"error": err.Error(),
		})
		return
	}
	s.logger.Info("registry seed reloaded", map[string]string{
		"path":    s.config.RegistryFile,
		"entries": strconv.Itoa(count),
	})
	s.hub.Broadcast(s.registry.Snapshot().Event())
}

// shutdown stops background work in dependency order: no new seed reloads,
// no new captures, then connections, then the mirror.
func (s *services) shutdown() *shutdownCoordinator {
	coordinator := newShutdownCoordinator(s.logger)
	coordinator.Add("watcher", func(context.Context) error {
		if s.seedWatch != nil {
			_ = s.seedWatch.Close()
		}
		return s.watcher.Close()
	})
	coordinator.Add("capture", func(context.Context) error {
		s.capture.Stop()
		return nil
	})
	coordinator.Add("hub", func(context.Context) error {
		s.hub.Close()
		return nil
	})
	coordinator.Add("mirror", func(context.Context) error {
		s.mirror.Close()
		return nil
	})
	return coordinator
}
