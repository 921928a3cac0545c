// Package config loads and validates the bridge configuration from YAML.
// Configuration is read once at startup; components receive the values
// they need through their Deps structs and never re-read files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PopoGonry/iot-data-bridge/errors"
)

// Duration wraps time.Duration for YAML fields like "5s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, errors.ErrInvalidConfig)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NATSConfig holds broker connection settings. The one connection serves
// both the ingress subscription and broker-transport publishes.
type NATSConfig struct {
	URL            string   `yaml:"url"`
	Name           string   `yaml:"name"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	ReconnectWait  Duration `yaml:"reconnect_wait"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// HubConfig holds hub relay connection settings.
type HubConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	SendTimeout  Duration `yaml:"send_timeout"`
	PingInterval Duration `yaml:"ping_interval"`
	DialTimeout  Duration `yaml:"dial_timeout"`
}

// IngressConfig holds the gateway subscription settings.
type IngressConfig struct {
	Subject string `yaml:"subject"`
}

// DispatchConfig holds fan-out settings.
type DispatchConfig struct {
	SendTimeout Duration `yaml:"send_timeout"`
}

// EventLogConfig holds event log file and rotation settings.
type EventLogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	BufferSize int    `yaml:"buffer_size"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// CatalogConfig points at the mapping and device table files.
type CatalogConfig struct {
	MappingPath string `yaml:"mapping_path"`
	DevicePath  string `yaml:"device_path"`
}

// LoggingConfig holds process log settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the full bridge configuration.
type Config struct {
	NATS     NATSConfig     `yaml:"nats"`
	Hub      HubConfig      `yaml:"hub"`
	Ingress  IngressConfig  `yaml:"ingress"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	EventLog EventLogConfig `yaml:"event_log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Catalogs CatalogConfig  `yaml:"catalogs"`
	Logging  LoggingConfig  `yaml:"logging"`
	Shutdown struct {
		GracePeriod Duration `yaml:"grace_period"`
	} `yaml:"shutdown"`
}

// Default returns a configuration with every optional field filled in.
// Required fields (catalog paths, event log path) stay empty and fail
// validation until provided.
func Default() Config {
	cfg := Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "iot-data-bridge",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			ConnectTimeout: Duration(5 * time.Second),
		},
		Hub: HubConfig{
			SendTimeout:  Duration(5 * time.Second),
			PingInterval: Duration(30 * time.Second),
			DialTimeout:  Duration(10 * time.Second),
		},
		Ingress: IngressConfig{
			Subject: "bridge/ingress",
		},
		Dispatch: DispatchConfig{
			SendTimeout: Duration(5 * time.Second),
		},
		EventLog: EventLogConfig{
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.Shutdown.GracePeriod = Duration(10 * time.Second)
	return cfg
}

// Load reads, merges over defaults, applies environment overrides and
// validates a configuration file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapFatal(err, "config", "Load", "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"config", "Load", "parse config file")
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets deployment environments override connection endpoints
// without editing the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("IOTBRIDGE_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("IOTBRIDGE_HUB_ENDPOINT"); v != "" {
		c.Hub.Endpoint = v
	}
	if v := os.Getenv("IOTBRIDGE_NATS_TOKEN"); v != "" {
		c.NATS.Token = v
	}
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return errors.WrapFatal(
			fmt.Errorf("%s: %w", msg, errors.ErrInvalidConfig),
			"config", "Validate", "configuration check")
	}

	if c.NATS.URL == "" {
		return fail("nats.url is required")
	}
	if c.Ingress.Subject == "" {
		return fail("ingress.subject is required")
	}
	if c.Catalogs.MappingPath == "" {
		return fail("catalogs.mapping_path is required")
	}
	if c.Catalogs.DevicePath == "" {
		return fail("catalogs.device_path is required")
	}
	if c.EventLog.Path == "" {
		return fail("event_log.path is required")
	}
	if c.Dispatch.SendTimeout.Std() <= 0 {
		return fail("dispatch.send_timeout must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fail("metrics.port must be a valid port")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fail("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fail("logging.format must be json or text")
	}
	return nil
}
