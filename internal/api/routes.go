package api

import (
	"net/http"
	"time"

	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"
	"worldbridge/internal/registry"

	"github.com/gorilla/websocket"
)

// VisualizationPath is the reserved websocket path for viewers. Upgrades on
// any other path join the automation pool.
const VisualizationPath = "/ws/ui"

type Options struct {
	Hub       Hub
	Registry  *registry.Registry
	Injector  PromptSender
	Capture   CaptureStatus
	Metrics   *metrics.Registry
	Logger    *logging.Logger
	Session   string
	Version   string
	StartedAt time.Time
	Now       func() time.Time
}

// NewHandler builds the bridge's HTTP surface.
func NewHandler(options Options) http.Handler {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("api")
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.StartedAt.IsZero() {
		options.StartedAt = options.Now()
	}

	rest := &RestHandler{
		Hub:       options.Hub,
		Registry:  options.Registry,
		Injector:  options.Injector,
		Capture:   options.Capture,
		Metrics:   options.Metrics,
		Logger:    logger,
		Session:   options.Session,
		Version:   options.Version,
		StartedAt: options.StartedAt,
		Now:       options.Now,
	}

	mux := http.NewServeMux()
	mux.Handle("/health", restHandler(http.MethodGet, rest.handleHealth))
	mux.Handle("/metrics", restHandler(http.MethodGet, rest.handleMetrics))
	mux.Handle("/api/registry", restHandler(http.MethodGet, rest.handleRegistry))
	mux.Handle("/api/clients", restHandler(http.MethodGet, rest.handleClients))
	mux.Handle("/api/register", restHandler(http.MethodPost, rest.handleRegister))
	mux.Handle("/api/event", restHandler(http.MethodPost, rest.handleEvent))
	mux.Handle("/api/prompt", restHandler(http.MethodPost, rest.handlePrompt))
	mux.HandleFunc("/", notFound)

	routed := loggingMiddleware(logger, tracingMiddleware(mux))
	return corsMiddleware(upgradeRouter(options.Hub, routed))
}

// upgradeRouter sends websocket upgrades to the hub and everything else to
// next.
func upgradeRouter(hub Hub, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hub == nil || !websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == VisualizationPath {
			hub.ServeVisualization(w, r)
			return
		}
		hub.ServeAutomation(w, r)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("Not found"))
}
