// Package config resolves bridge settings from built-in defaults, an
// optional TOML file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"worldbridge/internal/config/tomlkeys"
	"worldbridge/internal/logging"
)

const DefaultFile = "worldbridge.toml"

type Config struct {
	Port         int
	Session      string
	EnterDelay   time.Duration
	RegistryFile string
	LogLevel     logging.Level
	Capture      CaptureConfig
	Mirror       MirrorConfig

	// File is the TOML file that was applied, empty when none was found.
	File string
}

type CaptureConfig struct {
	Enabled       bool
	Interval      time.Duration
	Lines         int
	OnDemandLines int
	TailLines     int
}

// MirrorConfig enables the MQTT mirror when Broker is set.
type MirrorConfig struct {
	Broker string
	Topic  string
}

func Defaults() Config {
	return Config{
		Port:       3030,
		Session:    "claude",
		EnterDelay: 100 * time.Millisecond,
		LogLevel:   logging.LevelInfo,
		Capture: CaptureConfig{
			Enabled:       true,
			Interval:      time.Second,
			Lines:         50,
			OnDemandLines: 200,
			TailLines:     10,
		},
		Mirror: MirrorConfig{
			Topic: "worldbridge/events",
		},
	}
}

func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Validate rejects settings the bridge cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Session) == "" {
		errs = append(errs, errors.New("tmux session is required"))
	}
	if c.EnterDelay < 0 {
		errs = append(errs, fmt.Errorf("enter delay %s is negative", c.EnterDelay))
	}
	if c.Capture.Interval <= 0 {
		errs = append(errs, fmt.Errorf("capture interval %s must be positive", c.Capture.Interval))
	}
	if c.Capture.Lines <= 0 {
		errs = append(errs, fmt.Errorf("capture lines %d must be positive", c.Capture.Lines))
	}
	if c.Capture.OnDemandLines <= 0 {
		errs = append(errs, fmt.Errorf("on-demand capture lines %d must be positive", c.Capture.OnDemandLines))
	}
	if c.Capture.TailLines <= 0 {
		errs = append(errs, fmt.Errorf("capture tail lines %d must be positive", c.Capture.TailLines))
	}
	if _, ok := logging.ParseLevel(string(c.LogLevel)); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.Mirror.Broker != "" && strings.TrimSpace(c.Mirror.Topic) == "" {
		errs = append(errs, errors.New("mirror topic is required when a broker is set"))
	}
	return errors.Join(errs...)
}

// Loader carries the process inputs Load reads from.
type Loader struct {
	Args      []string
	LookupEnv func(string) (string, bool)
	ReadFile  func(string) ([]byte, error)
	Output    io.Writer
}

// Load resolves the configuration from the process environment.
func Load(args []string) (Config, error) {
	return Loader{Args: args}.Load()
}

// Load returns pflag.ErrHelp when --help was requested.
func (l Loader) Load() (Config, error) {
	if l.LookupEnv == nil {
		l.LookupEnv = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	flags := newFlags(l.Output)
	if err := flags.set.Parse(l.Args); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if err := l.applyFile(&cfg, flags); err != nil {
		return Config{}, err
	}
	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	flags.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.LogLevel, _ = logging.ParseLevel(string(cfg.LogLevel))
	return cfg, nil
}

func (l Loader) applyFile(cfg *Config, flags *flagValues) error {
	path, explicit := flags.configPath()
	if !explicit {
		if value, ok := l.LookupEnv("BRIDGE_CONFIG"); ok && strings.TrimSpace(value) != "" {
			path, explicit = strings.TrimSpace(value), true
		}
	}
	if path == "" {
		path = DefaultFile
	}

	payload, err := l.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	store, err := tomlkeys.Decode(payload)
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := applyStore(cfg, store); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	cfg.File = path
	return nil
}

func applyStore(cfg *Config, store tomlkeys.Store) error {
	known := map[string]bool{}
	var errs []error
	intKey := func(key string, target *int) {
		known[key] = true
		if !store.Has(key) {
			return
		}
		value, err := store.GetInt(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*target = int(value)
	}
	stringKey := func(key string, target *string) {
		known[key] = true
		if !store.Has(key) {
			return
		}
		value, err := store.GetString(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*target = strings.TrimSpace(value)
	}
	durationKey := func(key string, target *time.Duration) {
		known[key] = true
		if !store.Has(key) {
			return
		}
		value, err := store.GetDuration(key)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*target = value
	}

	intKey("server.port", &cfg.Port)
	stringKey("tmux.session", &cfg.Session)
	durationKey("tmux.enter-delay", &cfg.EnterDelay)
	stringKey("registry.seed-file", &cfg.RegistryFile)
	stringKey("mirror.broker", &cfg.Mirror.Broker)
	stringKey("mirror.topic", &cfg.Mirror.Topic)
	durationKey("capture.interval", &cfg.Capture.Interval)
	intKey("capture.lines", &cfg.Capture.Lines)
	intKey("capture.on-demand-lines", &cfg.Capture.OnDemandLines)
	intKey("capture.tail-lines", &cfg.Capture.TailLines)

	known["capture.enabled"] = true
	if store.Has("capture.enabled") {
		value, err := store.GetBool("capture.enabled")
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Capture.Enabled = value
		}
	}

	var level string
	stringKey("log.level", &level)
	if level != "" {
		cfg.LogLevel = logging.Level(level)
	}

	for _, key := range store.Keys() {
		if !known[key] {
			errs = append(errs, fmt.Errorf("unknown key %q", key))
		}
	}
	return errors.Join(errs...)
}

func (l Loader) applyEnv(cfg *Config) error {
	lookup := func(name string) (string, bool) {
		value, ok := l.LookupEnv(name)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	var errs []error
	if value, ok := lookup("BRIDGE_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRIDGE_PORT: %w", err))
		} else {
			cfg.Port = port
		}
	}
	if value, ok := lookup("TMUX_SESSION"); ok {
		cfg.Session = value
	}
	if value, ok := lookup("BRIDGE_CAPTURE"); ok {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRIDGE_CAPTURE: %w", err))
		} else {
			cfg.Capture.Enabled = enabled
		}
	}
	if value, ok := lookup("BRIDGE_CAPTURE_INTERVAL"); ok {
		interval, err := parseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRIDGE_CAPTURE_INTERVAL: %w", err))
		} else {
			cfg.Capture.Interval = interval
		}
	}
	if value, ok := lookup("BRIDGE_CAPTURE_LINES"); ok {
		lines, err := strconv.Atoi(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("BRIDGE_CAPTURE_LINES: %w", err))
		} else {
			cfg.Capture.Lines = lines
		}
	}
	if value, ok := lookup("BRIDGE_REGISTRY_FILE"); ok {
		cfg.RegistryFile = value
	}
	if value, ok := lookup("BRIDGE_LOG_LEVEL"); ok {
		cfg.LogLevel = logging.Level(value)
	}
	if value, ok := lookup("BRIDGE_MQTT_BROKER"); ok {
		cfg.Mirror.Broker = value
	}
	if value, ok := lookup("BRIDGE_MQTT_TOPIC"); ok {
		cfg.Mirror.Topic = value
	}
	return errors.Join(errs...)
}

// parseDuration accepts a Go duration or a bare number of milliseconds.
func parseDuration(value string) (time.Duration, error) {
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(millis) * time.Millisecond, nil
	}
	return time.ParseDuration(value)
}
