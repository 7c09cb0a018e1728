package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"worldbridge/internal/event"
	"worldbridge/internal/hub"
	"worldbridge/internal/inject"
	"worldbridge/internal/metrics"
	"worldbridge/internal/registry"
)

var startedAt = time.UnixMilli(1700000000000)

type fakeHub struct {
	mu            sync.Mutex
	events        []event.Event
	visualization int
	automation    int
	clients       []hub.ClientInfo
	served        []string
}

func (f *fakeHub) Broadcast(ev event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeHub) Counts() (int, int) {
	return f.visualization, f.automation
}

func (f *fakeHub) Clients() []hub.ClientInfo {
	return f.clients
}

func (f *fakeHub) ServeVisualization(w http.ResponseWriter, r *http.Request) {
	f.serve("visualization", w)
}

func (f *fakeHub) ServeAutomation(w http.ResponseWriter, r *http.Request) {
	f.serve("automation", w)
}

func (f *fakeHub) serve(pool string, w http.ResponseWriter) {
	f.mu.Lock()
	f.served = append(f.served, pool)
	f.mu.Unlock()
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeHub) broadcasts() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.events...)
}

type fakeSender struct {
	calls    int
	prompt   string
	session  string
	err      error
	fallback string
}

func (f *fakeSender) Send(_ context.Context, prompt, session string) error {
	f.calls++
	f.prompt = prompt
	f.session = session
	return f.err
}

func (f *fakeSender) Target(session string) string {
	if session == "" {
		return f.fallback
	}
	return session
}

type fakeCapture struct {
	enabled bool
	running bool
}

func (f fakeCapture) Enabled() bool { return f.enabled }
func (f fakeCapture) Running() bool { return f.running }

type fixture struct {
	handler  http.Handler
	hub      *fakeHub
	sender   *fakeSender
	registry *registry.Registry
	metrics  *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		hub:      &fakeHub{visualization: 2, automation: 1},
		sender:   &fakeSender{fallback: "claude"},
		registry: registry.NewWithDefaults(),
		metrics:  &metrics.Registry{},
	}
	f.handler = NewHandler(Options{
		Hub:       f.hub,
		Registry:  f.registry,
		Injector:  f.sender,
		Capture:   fakeCapture{enabled: true, running: true},
		Metrics:   f.metrics,
		Session:   "claude",
		Version:   "1.2.3",
		StartedAt: startedAt,
		Now:       func() time.Time { return startedAt.Add(90 * time.Second) },
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var payload errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthReportsState(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header, got %q", got)
	}

	var payload healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload.Status != "ok" || payload.SessionName != "claude" || payload.Version != "1.2.3" {
		t.Fatalf("unexpected health payload: %+v", payload)
	}
	if payload.VisualizationClients != 2 || payload.AutomationClients != 1 {
		t.Fatalf("unexpected counts: %+v", payload)
	}
	if !payload.CaptureEnabled || !payload.CaptureRunning {
		t.Fatalf("expected capture flags set: %+v", payload)
	}
	if payload.UptimeSeconds != 90 || payload.Uptime == "" {
		t.Fatalf("unexpected uptime: %q %d", payload.Uptime, payload.UptimeSeconds)
	}
}

func TestRegistryListsDefaults(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/registry", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snapshot registry.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode registry: %v", err)
	}
	if len(snapshot.Tools) != 6 || snapshot.Skills == nil || len(snapshot.Skills) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestRegisterIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/register", `{"type":"tool","name":"Read","icon":"📖"}`); rec.Code != http.StatusOK {
		t.Fatalf("first register: %d %s", rec.Code, rec.Body.String())
	}
	rec := f.do(http.MethodPost, "/api/register", `{"type":"tool","name":"read","icon":"🆕"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("second register: %d %s", rec.Code, rec.Body.String())
	}
	if strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	matches := 0
	for _, tool := range f.registry.Snapshot().Tools {
		if strings.EqualFold(tool.Name, "read") {
			matches++
			if tool.Name != "read" || tool.Icon != "🆕" {
				t.Fatalf("unexpected descriptor %+v", tool)
			}
		}
	}
	if matches != 1 {
		t.Fatalf("expected one read entry, got %d", matches)
	}

	events := f.hub.broadcasts()
	if len(events) != 2 {
		t.Fatalf("expected 2 registry broadcasts, got %d", len(events))
	}
	update, ok := events[1].Payload.(event.RegistryUpdate)
	if events[1].Kind != event.TypeRegistryUpdate || !ok {
		t.Fatalf("expected registry update, got %+v", events[1])
	}
	if len(update.Tools) != 6 {
		t.Fatalf("expected 6 tools in update, got %d", len(update.Tools))
	}
}

func TestRegisterSkillDefaultsAndErrors(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(http.MethodPost, "/api/register", `{"type":"skill","name":"pdf"}`); rec.Code != http.StatusOK {
		t.Fatalf("skill register: %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/register", `{"name":"deploy"}`); rec.Code != http.StatusOK {
		t.Fatalf("missing type register: %d", rec.Code)
	}
	if _, ok := f.registry.Get(registry.KindTool, "deploy"); !ok {
		t.Fatal("expected missing type to register a tool")
	}
	if _, ok := f.registry.Get(registry.KindSkill, "pdf"); !ok {
		t.Fatal("expected skill registered")
	}

	before := len(f.hub.broadcasts())
	cases := map[string]string{
		"invalid json": `{"name":`,
		"blank name":   `{"type":"tool","name":"   "}`,
		"bad type":     `{"type":"agent","name":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/register", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if payload := decodeError(t, rec); payload.Error == "" || payload.Code != "invalid_request" {
				t.Fatalf("unexpected error body %+v", payload)
			}
		})
	}
	if got := len(f.hub.broadcasts()); got != before {
		t.Fatalf("expected no broadcasts on rejected registrations, got %d", got-before)
	}
}

func TestEventIsBroadcast(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/event", `{"type":"tool_use","payload":{"tool":"read","file":"a.go"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	events := f.hub.broadcasts()
	if len(events) != 1 || events[0].Kind != event.TypeToolUse {
		t.Fatalf("unexpected broadcasts %+v", events)
	}
	if events[0].Describe() != "read" {
		t.Fatalf("expected tool read, got %q", events[0].Describe())
	}
}

func TestEventRejectsMalformedBodies(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`not json`, `{"payload":{}}`, `{"type":""}`} {
		rec := f.do(http.MethodPost, "/api/event", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
	if len(f.hub.broadcasts()) != 0 {
		t.Fatal("expected no broadcasts")
	}
}

func TestEventRejectsOversizedBody(t *testing.T) {
	f := newFixture(t)
	body := `{"type":"thinking","payload":{"text":"` + strings.Repeat("x", maxBodyBytes) + `"}}`
	rec := f.do(http.MethodPost, "/api/event", body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestPromptBlankNeverInvokesTerminal(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{`{"prompt":""}`, `{"prompt":"  \n\t"}`, `{}`, `{"prompt":`} {
		rec := f.do(http.MethodPost, "/api/prompt", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
	if f.sender.calls != 0 {
		t.Fatalf("expected zero sends, got %d", f.sender.calls)
	}
	if len(f.hub.broadcasts()) != 0 {
		t.Fatal("expected no broadcasts")
	}
}

func TestPromptSuccessBroadcastsPrompt(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/prompt", `{"prompt":"It's a test"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if f.sender.calls != 1 || f.sender.prompt != "It's a test" || f.sender.session != "" {
		t.Fatalf("unexpected send %+v", f.sender)
	}
	events := f.hub.broadcasts()
	if len(events) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(events))
	}
	prompt, ok := events[0].Payload.(event.Prompt)
	if !ok || prompt.Prompt != "It's a test" || prompt.Session != "claude" {
		t.Fatalf("unexpected prompt event %+v", events[0])
	}
}

func TestPromptFailureReturns500(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.Join(inject.ErrUnavailable, errors.New("can't find session: other"))
	rec := f.do(http.MethodPost, "/api/prompt", `{"prompt":"hi","session":"other"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	payload := decodeError(t, rec)
	if payload.Error != "tmux not available or session not found" {
		t.Fatalf("unexpected error %q", payload.Error)
	}
	if !strings.Contains(payload.Details, "can't find session") {
		t.Fatalf("expected details, got %q", payload.Details)
	}
	if len(f.hub.broadcasts()) != 0 {
		t.Fatal("expected no broadcasts on failure")
	}
}

func TestClientsListsConnections(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/clients", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}

	f.hub.clients = []hub.ClientInfo{{ID: "abc", Kind: hub.KindVisualization}}
	rec = f.do(http.MethodGet, "/api/clients", "")
	var clients []hub.ClientInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &clients); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if len(clients) != 1 || clients[0].ID != "abc" {
		t.Fatalf("unexpected clients %+v", clients)
	}
}

func TestMetricsExposition(t *testing.T) {
	f := newFixture(t)
	f.metrics.IncRegistryUpsert()
	rec := f.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "worldbridge_registry_upserts_total 1") {
		t.Fatalf("expected upsert counter, got:\n%s", rec.Body.String())
	}
}
