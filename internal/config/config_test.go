package config

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"worldbridge/internal/logging"

	"github.com/spf13/pflag"
)

func loader(args []string, env map[string]string, files map[string]string) Loader {
	return Loader{
		Args: args,
		LookupEnv: func(name string) (string, bool) {
			value, ok := env[name]
			return value, ok
		},
		ReadFile: func(path string) ([]byte, error) {
			payload, ok := files[path]
			if !ok {
				return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
			}
			return []byte(payload), nil
		},
		Output: io.Discard,
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := loader(nil, nil, nil).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3030 || cfg.Session != "claude" || !cfg.Capture.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Capture.Interval != time.Second || cfg.Capture.Lines != 50 || cfg.Capture.OnDemandLines != 200 || cfg.Capture.TailLines != 10 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
	if cfg.EnterDelay != 100*time.Millisecond || cfg.LogLevel != logging.LevelInfo {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Mirror.Broker != "" || cfg.Mirror.Topic != "worldbridge/events" {
		t.Fatalf("unexpected mirror defaults: %+v", cfg.Mirror)
	}
	if cfg.File != "" {
		t.Fatalf("expected no config file, got %q", cfg.File)
	}
	if cfg.Addr() != ":3030" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestPrecedenceFileEnvFlags(t *testing.T) {
	files := map[string]string{
		DefaultFile: `
[server]
port = 4000

[tmux]
session = "work"
enter_delay = "50ms"

[capture]
enabled = false
interval = 500
lines = 80
on-demand-lines = 300
tail-lines = 5

[log]
level = "debug"
`,
	}

	cfg, err := loader(nil, nil, files).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.File != DefaultFile || cfg.Port != 4000 || cfg.Session != "work" || cfg.EnterDelay != 50*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Capture.Enabled || cfg.Capture.Interval != 500*time.Millisecond || cfg.Capture.Lines != 80 {
		t.Fatalf("capture file values not applied: %+v", cfg.Capture)
	}
	if cfg.Capture.OnDemandLines != 300 || cfg.Capture.TailLines != 5 || cfg.LogLevel != logging.LevelDebug {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	env := map[string]string{
		"BRIDGE_PORT":    "5000",
		"TMUX_SESSION":   "env-session",
		"BRIDGE_CAPTURE": "true",
	}
	cfg, err = loader(nil, env, files).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 5000 || cfg.Session != "env-session" || !cfg.Capture.Enabled || cfg.Capture.Lines != 80 {
		t.Fatalf("env did not override file: %+v", cfg)
	}

	cfg, err = loader([]string{"--port", "6000", "--capture=false"}, env, files).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 6000 || cfg.Capture.Enabled || cfg.Session != "env-session" {
		t.Fatalf("flags did not override env: %+v", cfg)
	}
}

func TestEnvironment(t *testing.T) {
	env := map[string]string{
		"BRIDGE_CAPTURE_INTERVAL": "2s",
		"BRIDGE_CAPTURE_LINES":    "120",
		"BRIDGE_REGISTRY_FILE":    "/etc/worldbridge/registry.yaml",
		"BRIDGE_LOG_LEVEL":        "warn",
		"BRIDGE_MQTT_BROKER":      "localhost:1883",
		"BRIDGE_MQTT_TOPIC":       "world/events",
		"TMUX_SESSION":            "   ",
	}
	cfg, err := loader(nil, env, nil).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Interval != 2*time.Second || cfg.Capture.Lines != 120 {
		t.Fatalf("unexpected capture: %+v", cfg.Capture)
	}
	if cfg.RegistryFile != "/etc/worldbridge/registry.yaml" || cfg.LogLevel != logging.LevelWarning {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Mirror.Broker != "localhost:1883" || cfg.Mirror.Topic != "world/events" {
		t.Fatalf("unexpected mirror: %+v", cfg.Mirror)
	}
	if cfg.Session != "claude" {
		t.Fatalf("blank env should keep default session, got %q", cfg.Session)
	}
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	_, err := loader([]string{"--config", "missing.toml"}, nil, nil).Load()
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing file error, got %v", err)
	}

	files := map[string]string{"custom.toml": "server.port = 7000\n"}
	cfg, err := loader(nil, map[string]string{"BRIDGE_CONFIG": "custom.toml"}, files).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7000 || cfg.File != "custom.toml" {
		t.Fatalf("expected env config file applied: %+v", cfg)
	}
}

func TestFileErrors(t *testing.T) {
	cases := map[string]string{
		"syntax":      "server.port = ",
		"wrong type":  `server.port = "3030"`,
		"unknown key": "server.host = \"0.0.0.0\"\n",
		"bad delay":   `tmux.enter-delay = "soon"`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loader(nil, nil, map[string]string{DefaultFile: payload}).Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), DefaultFile) {
				t.Fatalf("expected file name in error, got %v", err)
			}
		})
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "zero port", args: []string{"--port", "0"}},
		{name: "port text", env: map[string]string{"BRIDGE_PORT": "http"}},
		{name: "zero interval", args: []string{"--capture-interval", "0s"}},
		{name: "negative lines", args: []string{"--capture-lines", "-1"}},
		{name: "bad bool", env: map[string]string{"BRIDGE_CAPTURE": "maybe"}},
		{name: "bad level", args: []string{"--log-level", "loud"}},
		{name: "unknown flag", args: []string{"--verbose"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loader(tc.args, tc.env, nil).Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHelpFlag(t *testing.T) {
	_, err := loader([]string{"--help"}, nil, nil).Load()
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("expected ErrHelp, got %v", err)
	}
}
