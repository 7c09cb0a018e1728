package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"worldbridge/internal/event"
	"worldbridge/internal/hub"
	"worldbridge/internal/inject"
	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"
	"worldbridge/internal/registry"

	"github.com/dustin/go-humanize"
)

// Hub is the fan-out the gateway feeds.
type Hub interface {
	Broadcast(ev event.Event)
	Counts() (int, int)
	Clients() []hub.ClientInfo
	ServeVisualization(w http.ResponseWriter, r *http.Request)
	ServeAutomation(w http.ResponseWriter, r *http.Request)
}

type PromptSender interface {
	Send(ctx context.Context, prompt, session string) error
	Target(session string) string
}

type CaptureStatus interface {
	Enabled() bool
	Running() bool
}

type RestHandler struct {
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

type healthResponse struct {
	Status               string `json:"status"`
	VisualizationClients int    `json:"visualizationClients"`
	AutomationClients    int    `json:"automationClients"`
	SessionName          string `json:"sessionName"`
	CaptureEnabled       bool   `json:"captureEnabled"`
	CaptureRunning       bool   `json:"captureRunning"`
	Version              string `json:"version"`
	Uptime               string `json:"uptime"`
	UptimeSeconds        int64  `json:"uptimeSeconds"`
}

type registerRequest struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type promptRequest struct {
	Prompt  string `json:"prompt"`
	Session string `json:"session"`
}

func (h *RestHandler) handleHealth(w http.ResponseWriter, r *http.Request) *apiError {
	now := h.Now()
	response := healthResponse{
		Status:        "ok",
		SessionName:   h.Session,
		Version:       h.Version,
		Uptime:        strings.TrimSpace(humanize.RelTime(h.StartedAt, now, "", "")),
		UptimeSeconds: int64(now.Sub(h.StartedAt).Seconds()),
	}
	if h.Hub != nil {
		response.VisualizationClients, response.AutomationClients = h.Hub.Counts()
	}
	if h.Capture != nil {
		response.CaptureEnabled = h.Capture.Enabled()
		response.CaptureRunning = h.Capture.Running()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := h.Metrics.WritePrometheus(w); err != nil {
		h.Logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
	}
	return nil
}

func (h *RestHandler) handleRegistry(w http.ResponseWriter, r *http.Request) *apiError {
	writeJSON(w, http.StatusOK, h.Registry.Snapshot())
	return nil
}

func (h *RestHandler) handleClients(w http.ResponseWriter, r *http.Request) *apiError {
	clients := []hub.ClientInfo{}
	if h.Hub != nil {
		clients = append(clients, h.Hub.Clients()...)
	}
	writeJSON(w, http.StatusOK, clients)
	return nil
}

func (h *RestHandler) handleRegister(w http.ResponseWriter, r *http.Request) *apiError {
	var request registerRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		return err
	}
	kind, err := registry.ParseKind(request.Type)
	if err != nil {
		return badRequest(err.Error())
	}
	stored, err := h.Registry.Upsert(kind, registry.Descriptor{
		Name:  request.Name,
		Icon:  request.Icon,
		Color: request.Color,
	})
	if err != nil {
		if errors.Is(err, registry.ErrNameRequired) || errors.Is(err, registry.ErrUnknownKind) {
			return badRequest(err.Error())
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "registry update failed", Details: err.Error()}
	}

	h.Logger.Info("registered", map[string]string{
		"kind": string(kind),
		"name": stored.Name,
	})
	if h.Hub != nil {
		h.Hub.Broadcast(h.Registry.Snapshot().Event())
	}
	writeSuccess(w)
	return nil
}

func (h *RestHandler) handleEvent(w http.ResponseWriter, r *http.Request) *apiError {
	body, apiErr := readBody(w, r)
	if apiErr != nil {
		return apiErr
	}
	ev, err := event.Decode(body)
	if err != nil {
		if errors.Is(err, event.ErrMissingType) {
			return badRequest(err.Error())
		}
		return badRequest("invalid JSON")
	}
	h.Logger.Debug("http event", map[string]string{
		"type":    ev.Type(),
		"summary": ev.Describe(),
	})
	if h.Hub != nil {
		h.Hub.Broadcast(ev)
	}
	writeSuccess(w)
	return nil
}

func (h *RestHandler) handlePrompt(w http.ResponseWriter, r *http.Request) *apiError {
	var request promptRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return badRequest(inject.ErrEmptyPrompt.Error())
	}
	if h.Injector == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: inject.ErrUnavailable.Error()}
	}

	if err := h.Injector.Send(r.Context(), request.Prompt, request.Session); err != nil {
		if errors.Is(err, inject.ErrEmptyPrompt) {
			return badRequest(err.Error())
		}
		return &apiError{
			Status:  http.StatusInternalServerError,
			Message: inject.ErrUnavailable.Error(),
			Details: err.Error(),
		}
	}

	if h.Hub != nil {
		h.Hub.Broadcast(event.NewPromptEvent(request.Prompt, h.Injector.Target(request.Session)))
	}
	writeSuccess(w)
	return nil
}
