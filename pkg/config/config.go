// Package config provides configuration management for pearlsync daemons.
// It handles loading, validation, and management of all settings including
// broker connection parameters, the shared secret, and local runtime options.
//
// Configuration Sources:
//
// Configuration can be loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables
//  3. A .env file in the working directory
//  4. A YAML or TOML config file
//  5. Default values (lowest priority)
//
// Broker settings may also live in the persistent settings store. Broker
// values given through any of the sources above are recorded as overrides
// and win over stored values; stored values win over defaults.
//
// Environment Variables:
//
//   - PEARLSYNC_SECRET: Shared secret used to derive the payload key
//   - PEARLSYNC_SECRET_FILE: Path to file containing the shared secret
//   - PEARLSYNC_DEVICE_ID: Identifier published with every event
//   - PEARLSYNC_SERVER: Broker host name
//   - PEARLSYNC_PORT: Broker port
//   - PEARLSYNC_TLS: Connect with TLS ("true" or "false")
//   - PEARLSYNC_USERNAME / PEARLSYNC_PASSWORD: Broker credentials
//   - PEARLSYNC_TOPIC: Topic shared by all devices
//   - PEARLSYNC_CA_FILE: PEM bundle used to verify the broker
//   - PEARLSYNC_INSECURE_SKIP_VERIFY: Skip broker certificate checks
//   - PEARLSYNC_SOCKET: Local API socket path
//   - PEARLSYNC_SETTINGS: Settings database path
//   - PEARLSYNC_METRICS_LISTEN: Address for the Prometheus endpoint
//   - PEARLSYNC_POLL_INTERVAL: Clipboard polling frequency
//   - PEARLSYNC_DEDUPE_WINDOW: Redelivery filter window
//   - PEARLSYNC_HISTORY_SIZE: Number of history entries kept
//   - PEARLSYNC_VERBOSE: Enable verbose logging
//   - PEARLSYNC_LOG_LEVEL / PEARLSYNC_LOG_FORMAT: Logger settings
//
// Security:
//
// The shared secret and broker password are never logged or displayed in
// configuration output.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a pearlsync daemon.
type Config struct {
	// Broker connection. Fields set through a file, the environment or
	// flags are also recorded in Overrides.
	Connection Connection
	Overrides  map[string]string

	SecretFile string
	DeviceID   string

	// Local services
	SocketPath    string
	SettingsPath  string
	MetricsListen string

	// Behavior
	PollInterval time.Duration
	DedupeWindow time.Duration
	HistorySize  int

	// Logging
	Verbose   bool
	LogLevel  string
	LogFormat string
}

// NewConfig creates a config with defaults suitable for most desktops.
//
// Default values:
//   - DeviceID: hostname plus a short random suffix
//   - Connection: TLS on port 8883, topic "clipboard"
//   - PollInterval: 500ms
//   - DedupeWindow: 30s
//   - HistorySize: 50
//   - LogLevel: info, LogFormat: console
func NewConfig() *Config {
	return &Config{
		Connection:   DefaultConnection(),
		Overrides:    make(map[string]string),
		DeviceID:     GenerateDeviceID(),
		PollInterval: 500 * time.Millisecond,
		DedupeWindow: 30 * time.Second,
		HistorySize:  50,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Override sets a broker setting and records it so it wins over the
// settings store.
func (c *Config) Override(key, value string) error {
	if err := c.Connection.Set(key, value); err != nil {
		return err
	}
	if c.Overrides == nil {
		c.Overrides = make(map[string]string)
	}
	c.Overrides[key] = value
	return nil
}

// Validate checks local settings and resolves the secret file. Broker
// settings are validated separately when a session starts, because they
// may come from the settings store.
func (c *Config) Validate() error {
	if c.SecretFile != "" {
		if _, ok := c.Overrides[KeySecretKey]; ok {
			return fmt.Errorf("%w: cannot specify both --secret and --secret-file", ErrConfiguration)
		}

		content, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return fmt.Errorf("failed to read secret file: %w", err)
		}

		if err := c.Override(KeySecretKey, strings.TrimSpace(string(content))); err != nil {
			return err
		}
	}

	if c.DeviceID == "" {
		return fmt.Errorf("%w: device ID is required", ErrConfiguration)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrConfiguration)
	}
	if c.DedupeWindow < 0 {
		return fmt.Errorf("%w: dedupe window must not be negative", ErrConfiguration)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size must not be negative", ErrConfiguration)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrConfiguration, c.LogFormat)
	}
	return nil
}

// fileConfig is the on-disk layout shared by the YAML and TOML loaders.
// Pointer fields distinguish absent keys from zero values.
type fileConfig struct {
	DeviceID      string      `yaml:"device_id" toml:"device_id"`
	Broker        brokerBlock `yaml:"broker" toml:"broker"`
	SecretFile    string      `yaml:"secret_file" toml:"secret_file"`
	Socket        string      `yaml:"socket" toml:"socket"`
	Settings      string      `yaml:"settings" toml:"settings"`
	MetricsListen string      `yaml:"metrics_listen" toml:"metrics_listen"`
	PollInterval  string      `yaml:"poll_interval" toml:"poll_interval"`
	DedupeWindow  string      `yaml:"dedupe_window" toml:"dedupe_window"`
	HistorySize   *int        `yaml:"history_size" toml:"history_size"`
	LogLevel      string      `yaml:"log_level" toml:"log_level"`
	LogFormat     string      `yaml:"log_format" toml:"log_format"`
	Verbose       *bool       `yaml:"verbose" toml:"verbose"`
}

type brokerBlock struct {
	Server             *string `yaml:"server" toml:"server"`
	Port               *int    `yaml:"port" toml:"port"`
	TLS                *bool   `yaml:"tls" toml:"tls"`
	Username           *string `yaml:"username" toml:"username"`
	Password           *string `yaml:"password" toml:"password"`
	Topic              *string `yaml:"topic" toml:"topic"`
	Secret             *string `yaml:"secret" toml:"secret"`
	CAFile             *string `yaml:"ca_file" toml:"ca_file"`
	InsecureSkipVerify *bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) config file and
// applies the values it contains. A missing file is not an error when
// optional is true.
func (c *Config) LoadFile(path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrConfiguration, path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config file type %q", ErrConfiguration, filepath.Ext(path))
	}

	return c.apply(&fc)
}

func (c *Config) apply(fc *fileConfig) error {
	if fc.DeviceID != "" {
		c.DeviceID = fc.DeviceID
	}
	if fc.SecretFile != "" {
		c.SecretFile = fc.SecretFile
	}
	if fc.Socket != "" {
		c.SocketPath = fc.Socket
	}
	if fc.Settings != "" {
		c.SettingsPath = fc.Settings
	}
	if fc.MetricsListen != "" {
		c.MetricsListen = fc.MetricsListen
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}
	if fc.Verbose != nil {
		c.Verbose = *fc.Verbose
	}
	if fc.HistorySize != nil {
		c.HistorySize = *fc.HistorySize
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("%w: invalid poll_interval: %w", ErrConfiguration, err)
		}
		c.PollInterval = d
	}
	if fc.DedupeWindow != "" {
		d, err := time.ParseDuration(fc.DedupeWindow)
		if err != nil {
			return fmt.Errorf("%w: invalid dedupe_window: %w", ErrConfiguration, err)
		}
		c.DedupeWindow = d
	}

	b := fc.Broker
	overrides := []struct {
		key string
		set bool
		val func() string
	}{
		{KeyServerAddress, b.Server != nil, func() string { return *b.Server }},
		{KeyPort, b.Port != nil, func() string { return strconv.Itoa(*b.Port) }},
		{KeyEnableSSL, b.TLS != nil, func() string { return strconv.FormatBool(*b.TLS) }},
		{KeyUsername, b.Username != nil, func() string { return *b.Username }},
		{KeyPassword, b.Password != nil, func() string { return *b.Password }},
		{KeyTopic, b.Topic != nil, func() string { return *b.Topic }},
		{KeySecretKey, b.Secret != nil, func() string { return *b.Secret }},
		{KeyCAFile, b.CAFile != nil, func() string { return *b.CAFile }},
		{KeyInsecureSkipVerify, b.InsecureSkipVerify != nil, func() string { return strconv.FormatBool(*b.InsecureSkipVerify) }},
	}
	for _, o := range overrides {
		if !o.set {
			continue
		}
		if err := c.Override(o.key, o.val()); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment. Variables already set in the environment are kept.
// A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// envOverrides maps environment variables to broker setting keys.
var envOverrides = []struct {
	env string
	key string
}{
	{"PEARLSYNC_SERVER", KeyServerAddress},
	{"PEARLSYNC_PORT", KeyPort},
	{"PEARLSYNC_TLS", KeyEnableSSL},
	{"PEARLSYNC_USERNAME", KeyUsername},
	{"PEARLSYNC_PASSWORD", KeyPassword},
	{"PEARLSYNC_TOPIC", KeyTopic},
	{"PEARLSYNC_SECRET", KeySecretKey},
	{"PEARLSYNC_CA_FILE", KeyCAFile},
	{"PEARLSYNC_INSECURE_SKIP_VERIFY", KeyInsecureSkipVerify},
}

// LoadFromEnv loads configuration from PEARLSYNC_* environment variables,
// overriding any existing values. An invalid value keeps the existing
// setting and is reported in the returned error, which names every
// offending variable.
func (c *Config) LoadFromEnv() error {
	var errs []error
	invalid := func(name, value string, err error) {
		errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrConfiguration, name, value, err))
	}

	for _, e := range envOverrides {
		if v, ok := os.LookupEnv(e.env); ok && v != "" {
			if err := c.Override(e.key, v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", e.env, err))
			}
		}
	}

	if secretFile := os.Getenv("PEARLSYNC_SECRET_FILE"); secretFile != "" {
		c.SecretFile = secretFile
	}

	if deviceID := os.Getenv("PEARLSYNC_DEVICE_ID"); deviceID != "" {
		c.DeviceID = deviceID
	}

	if socket := os.Getenv("PEARLSYNC_SOCKET"); socket != "" {
		c.SocketPath = socket
	}

	if settings := os.Getenv("PEARLSYNC_SETTINGS"); settings != "" {
		c.SettingsPath = settings
	}

	if listen := os.Getenv("PEARLSYNC_METRICS_LISTEN"); listen != "" {
		c.MetricsListen = listen
	}

	if pollInterval := os.Getenv("PEARLSYNC_POLL_INTERVAL"); pollInterval != "" {
		if d, err := time.ParseDuration(pollInterval); err == nil {
			c.PollInterval = d
		} else {
			invalid("PEARLSYNC_POLL_INTERVAL", pollInterval, err)
		}
	}

	if window := os.Getenv("PEARLSYNC_DEDUPE_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			c.DedupeWindow = d
		} else {
			invalid("PEARLSYNC_DEDUPE_WINDOW", window, err)
		}
	}

	if size := os.Getenv("PEARLSYNC_HISTORY_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			c.HistorySize = n
		} else {
			invalid("PEARLSYNC_HISTORY_SIZE", size, err)
		}
	}

	if verbose := os.Getenv("PEARLSYNC_VERBOSE"); verbose != "" {
		if v, err := strconv.ParseBool(verbose); err == nil {
			c.Verbose = v
		} else {
			invalid("PEARLSYNC_VERBOSE", verbose, err)
		}
	}

	if level := os.Getenv("PEARLSYNC_LOG_LEVEL"); level != "" {
		c.LogLevel = strings.ToLower(level)
	}

	if format := os.Getenv("PEARLSYNC_LOG_FORMAT"); format != "" {
		c.LogFormat = strings.ToLower(format)
	}

	return errors.Join(errs...)
}

// GenerateDeviceID creates a device identifier of the form
// "{hostname}-{8 hex chars}", for example "laptop-1a2b3c4d".
func GenerateDeviceID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	id := uuid.New()
	return fmt.Sprintf("%s-%s", hostname, strings.ReplaceAll(id.String(), "-", "")[:8])
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/pearlsync/config.yaml, falling
// back to ~/.config.
func DefaultConfigPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "pearlsync", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config", "pearlsync", "config.yaml")
}

// DefaultSettingsPath returns $XDG_DATA_HOME/pearlsync/settings.db, falling
// back to ~/.local/share.
func DefaultSettingsPath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "pearlsync", "settings.db")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "share", "pearlsync", "settings.db")
}

// String returns a representation suitable for logging. The secret and the
// broker password are hidden.
func (c *Config) String() string {
	metrics := c.MetricsListen
	if metrics == "" {
		metrics = "[disabled]"
	}
	return fmt.Sprintf(
		"Config{DeviceID: %s, %s, Socket: %s, Settings: %s, Metrics: %s, PollInterval: %s, DedupeWindow: %s, Verbose: %v}",
		c.DeviceID, c.Connection.String(), c.SocketPath, c.SettingsPath, metrics, c.PollInterval, c.DedupeWindow, c.Verbose,
	)
}
