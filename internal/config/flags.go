package config

import (
	"io"
	"time"

	"worldbridge/internal/logging"

	"github.com/spf13/pflag"
)

type flagValues struct {
	set             *pflag.FlagSet
	config          string
	port            int
	session         string
	capture         bool
	captureInterval time.Duration
	captureLines    int
	registryFile    string
	logLevel        string
	mqttBroker      string
}

func newFlags(output io.Writer) *flagValues {
	defaults := Defaults()
	values := &flagValues{set: pflag.NewFlagSet("worldbridge", pflag.ContinueOnError)}
	set := values.set
	if output != nil {
		set.SetOutput(output)
	}
	set.StringVar(&values.config, "config", "", "path to a TOML config file (default: "+DefaultFile+" when present)")
	set.IntVar(&values.port, "port", defaults.Port, "HTTP and websocket listen port")
	set.StringVar(&values.session, "session", defaults.Session, "tmux session to capture and drive")
	set.BoolVar(&values.capture, "capture", defaults.Capture.Enabled, "poll the tmux pane while viewers are connected")
	set.DurationVar(&values.captureInterval, "capture-interval", defaults.Capture.Interval, "pane poll interval")
	set.IntVar(&values.captureLines, "capture-lines", defaults.Capture.Lines, "scrollback lines read per poll")
	set.StringVar(&values.registryFile, "registry-file", "", "YAML file seeding the tool and skill registry")
	set.StringVar(&values.logLevel, "log-level", string(defaults.LogLevel), "log level (debug, info, warning, error)")
	set.StringVar(&values.mqttBroker, "mqtt-broker", "", "mirror broadcasts to this MQTT broker")
	return values
}

func (f *flagValues) configPath() (string, bool) {
	if f.set.Changed("config") {
		return f.config, true
	}
	return "", false
}

// apply copies only the flags given on the command line.
func (f *flagValues) apply(cfg *Config) {
	if f.set.Changed("port") {
		cfg.Port = f.port
	}
	if f.set.Changed("session") {
		cfg.Session = f.session
	}
	if f.set.Changed("capture") {
		cfg.Capture.Enabled = f.capture
	}
	if f.set.Changed("capture-interval") {
		cfg.Capture.Interval = f.captureInterval
	}
	if f.set.Changed("capture-lines") {
		cfg.Capture.Lines = f.captureLines
	}
	if f.set.Changed("registry-file") {
		cfg.RegistryFile = f.registryFile
	}
	if f.set.Changed("log-level") {
		cfg.LogLevel = logging.Level(f.logLevel)
	}
	if f.set.Changed("mqtt-broker") {
		cfg.Mirror.Broker = f.mqttBroker
	}
}
