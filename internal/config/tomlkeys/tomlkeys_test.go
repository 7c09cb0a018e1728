package tomlkeys

import (
	"strings"
	"testing"
	"time"
)

func TestTableAndDottedKeysAreEquivalent(t *testing.T) {
	cases := []string{
		`[capture]
lines = 80
`,
		`capture.lines = 80
`,
	}
	for _, input := range cases {
		store, err := Decode([]byte(input))
		if err != nil {
			t.Fatalf("decode toml: %v", err)
		}
		value, err := store.GetInt("capture.lines")
		if err != nil {
			t.Fatalf("get capture.lines: %v", err)
		}
		if value != 80 {
			t.Fatalf("expected 80, got %d", value)
		}
	}
}

func TestNormalizationHandlesUnderscoresAndCase(t *testing.T) {
	store, err := Decode([]byte(`[Capture]
ON_DEMAND_LINES = 123
`))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	if !store.Has("capture.on-demand-lines") {
		t.Fatalf("expected normalized key, got %v", store.Keys())
	}
	value, err := store.GetInt("capture.on_demand_lines")
	if err != nil || value != 123 {
		t.Fatalf("expected 123, got %d (%v)", value, err)
	}
}

func TestMissingKeysReturnZeroValues(t *testing.T) {
	store, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if value, err := store.GetString("tmux.session"); err != nil || value != "" {
		t.Fatalf("expected empty string, got %q (%v)", value, err)
	}
	if store.Has("tmux.session") {
		t.Fatal("expected missing key")
	}
}

func TestTypeMismatchIsAnError(t *testing.T) {
	store, err := Decode([]byte(`server.port = "3030"
capture.enabled = 1
`))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	if _, err := store.GetInt("server.port"); err == nil || !strings.Contains(err.Error(), "server.port") {
		t.Fatalf("expected port type error, got %v", err)
	}
	if _, err := store.GetBool("capture.enabled"); err == nil {
		t.Fatal("expected bool type error")
	}
}

func TestDurations(t *testing.T) {
	store, err := Decode([]byte(`[capture]
interval = "250ms"
[tmux]
enter-delay = 40
bad = "soon"
`))
	if err != nil {
		t.Fatalf("decode toml: %v", err)
	}
	if value, err := store.GetDuration("capture.interval"); err != nil || value != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s (%v)", value, err)
	}
	if value, err := store.GetDuration("tmux.enter-delay"); err != nil || value != 40*time.Millisecond {
		t.Fatalf("expected 40ms, got %s (%v)", value, err)
	}
	if _, err := store.GetDuration("tmux.bad"); err == nil {
		t.Fatal("expected parse error")
	}
}
