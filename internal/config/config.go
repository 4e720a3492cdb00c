// Package config loads the ANC daemon's YAML configuration file, overlays
// command-line overrides, and watches the file for changes to the subset of
// settings that are safe to hot-reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config mirrors the original server's constants module field for field: ANC
// tuning, wire format, and MQTT connection settings.
type Config struct {
	// ANC tuning
	SampleRate     int     `yaml:"sample_rate"`
	ChunkSize      int     `yaml:"chunk_size"`
	FilterLength   int     `yaml:"filter_length"`
	Mu             float64 `yaml:"mu"`
	LatencySamples int     `yaml:"latency_samples"`

	// Wire format
	BitDepth     int     `yaml:"bit_depth"`
	Channels     int     `yaml:"channels"`
	Endianness   string  `yaml:"endianness"` // "little" or "big"
	Normalize    bool    `yaml:"normalize"`
	MaxAmplitude float64 `yaml:"max_amplitude"`

	// MQTT
	MQTTBroker               string `yaml:"mqtt_broker"`
	MQTTPort                 int    `yaml:"mqtt_port"`
	TopicRef                 string `yaml:"topic_ref"`
	TopicError               string `yaml:"topic_error"`
	TopicSpeaker             string `yaml:"topic_speaker"`
	MQTTClientID             string `yaml:"mqtt_client_id"`
	MQTTMaxReconnectAttempts int    `yaml:"mqtt_max_reconnect_attempts"`

	// Operational
	LogLevel   string `yaml:"log_level"`
	HealthAddr string `yaml:"health_addr"`
	CtlSocket  string `yaml:"ctl_socket"`
}

// Default returns the same defaults as the Python reference server's
// config module.
func Default() *Config {
	return &Config{
		SampleRate:     16000,
		ChunkSize:      256,
		FilterLength:   2048,
		Mu:             0.0005,
		LatencySamples: 0,

		BitDepth:     16,
		Channels:     1,
		Endianness:   "little",
		Normalize:    true,
		MaxAmplitude: 32767,

		MQTTBroker:               "localhost",
		MQTTPort:                 1883,
		TopicRef:                 "esp32/audio_ref",
		TopicError:               "esp32/audio_error",
		TopicSpeaker:             "esp32/audio_processed",
		MQTTMaxReconnectAttempts: 10,

		LogLevel:   "info",
		HealthAddr: ":8080",
		CtlSocket:  "/tmp/ancd.sock",
	}
}

// Load reads configPath, overlaying its fields onto Default(). A missing
// file is not an error: Default() is returned unchanged.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	return cfg, nil
}

// BindFlags registers pflag overrides for the subset of fields an operator
// plausibly wants to override per invocation, without editing the file.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.IntVar(&c.MQTTMaxReconnectAttempts, "mqtt-max-reconnect-attempts", c.MQTTMaxReconnectAttempts, "consecutive MQTT reconnect failures tolerated before exiting (0 = retry forever)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.HealthAddr, "health-addr", c.HealthAddr, "address for the /healthz and /readyz HTTP server")
	fs.StringVar(&c.CtlSocket, "ctl-socket", c.CtlSocket, "unix socket path for the control channel")
}

// GetConfigPath returns the default config file location.
func GetConfigPath() string {
	if v := os.Getenv("ANCD_CONFIG"); v != "" {
		return v
	}
	return filepath.Join("/etc", "ancd", "config.yaml")
}

// Watcher watches the config file for changes and invokes a callback with
// the reloaded configuration. Per spec.md §1 non-goal (d), filter constants
// (FilterLength, Mu, SampleRate, ChunkSize, LatencySamples) are never applied
// from a reload — only the operational fields (MQTT connection, log level,
// health/ctl addresses) are meant to be acted on; the callback receives the
// full reloaded Config but callers must restrict what they act on to those
// fields.
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	callback   func(*Config)

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewWatcher creates a Watcher for configPath.
func NewWatcher(configPath string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	return &Watcher{
		configPath: configPath,
		watcher:    w,
		callback:   callback,
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching the config file and its containing directory (so
// editors that replace the file via rename still trigger a reload).
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("config: watch %s: %w", w.configPath, err)
	}
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	w.running = true
	go w.watchLoop()
	return nil
}

// Stop stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.stopChan)
	w.watcher.Close()
	w.running = false
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name == w.configPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				w.reload()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) reload() {
	// Coalesce the burst of events some editors emit for a single save.
	time.Sleep(100 * time.Millisecond)

	cfg, err := Load(w.configPath)
	if err != nil {
		return
	}
	if w.callback != nil {
		w.callback(cfg)
	}
}
