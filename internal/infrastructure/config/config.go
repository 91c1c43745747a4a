package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Modbus Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	TSDB      TSDBConfig      `yaml:"tsdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig contains polling engine defaults.
//
// Per-device overrides in DeviceConfig take precedence where present.
// Durations are plain integers in the unit named by the field; use the
// Get* helpers to obtain time.Duration values.
type EngineConfig struct {
	// TemplateDir is the directory scanned for device template YAML files.
	TemplateDir string `yaml:"template_dir"`

	// MaxBatchWords bounds the address span of a single read request.
	// Modbus caps a read at 125 registers; values above 123 leave no
	// headroom for multi-word values at the end of a group.
	MaxBatchWords int `yaml:"max_batch_words"`

	// GapMergeThreshold is the largest run of unused filler words the
	// planner will read through to join two register spans into one group.
	GapMergeThreshold int `yaml:"gap_merge_threshold"`

	// DefaultScanInterval (seconds) applies to registers that do not
	// declare their own scan_interval.
	DefaultScanInterval int `yaml:"default_scan_interval"`

	// InterRequestDelayMs (milliseconds) is the pause between consecutive
	// group reads on the same connection. Serial gateways and cheap TCP
	// bridges drop back-to-back requests without it.
	InterRequestDelayMs int `yaml:"inter_request_delay_ms"`

	// PollTickMs (milliseconds) is the scheduler resolution. Group
	// intervals are honoured to within one tick.
	PollTickMs int `yaml:"poll_tick_ms"`

	ConnectTimeout    int `yaml:"connect_timeout"`    // seconds
	RequestTimeout    int `yaml:"request_timeout"`    // seconds
	ReconnectInterval int `yaml:"reconnect_interval"` // seconds

	// ErrorLogWindow (seconds) is the suppression window for repeated
	// per-register read failures.
	ErrorLogWindow int `yaml:"error_log_window"`
}

// DeviceConfig describes one polled Modbus device.
type DeviceConfig struct {
	// Name identifies the device in logs, topics, and the API. Must be
	// unique across the devices list.
	Name string `yaml:"name"`

	// Template is the name of the device template to instantiate.
	Template string `yaml:"template"`

	// Prefix replaces {PREFIX} in template unique_ids and names.
	// Empty uses the template's default_prefix.
	Prefix string `yaml:"prefix"`

	// SelectedModel picks a model profile from the template's
	// dynamic config, if the template defines one.
	SelectedModel string `yaml:"selected_model"`

	Connection ConnectionConfig `yaml:"connection"`

	// SlaveID is the Modbus unit identifier (1-247). Registers may
	// override it individually via device_address.
	SlaveID int `yaml:"slave_id"`

	// ScanInterval (seconds) overrides every register's own interval
	// when greater than zero.
	ScanInterval int `yaml:"scan_interval"`

	// MaxBatchWords and GapMergeThreshold override the engine defaults
	// for this device when set. GapMergeThreshold uses a pointer because
	// zero (never merge across gaps) is a meaningful override.
	MaxBatchWords     int  `yaml:"max_batch_words"`
	GapMergeThreshold *int `yaml:"gap_merge_threshold"`

	// Dynamic holds user values merged over the template's dynamic
	// defaults and model profile (phases, rated power, module counts).
	Dynamic map[string]any `yaml:"dynamic"`
}

// ConnectionConfig contains Modbus transport settings for one device.
//
// Devices with identical TCP endpoints share a single connection; requests
// are serialised across them.
type ConnectionConfig struct {
	// Mode selects the transport: "tcp" or "rtu".
	Mode string `yaml:"mode"`

	// Host and Port are used in tcp mode.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SerialDevice and the line parameters are used in rtu mode.
	SerialDevice string `yaml:"serial_device"`
	BaudRate     int    `yaml:"baud_rate"`
	DataBits     int    `yaml:"data_bits"`
	Parity       string `yaml:"parity"`
	StopBits     int    `yaml:"stop_bits"`
}

// DatabaseConfig contains SQLite database settings for the audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYMODBUS_SECTION_KEY
// For example: GRAYMODBUS_DATABASE_PATH, GRAYMODBUS_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Per-device defaults cannot live in defaultConfig because the
	// devices slice is created by the unmarshal.
	applyDeviceDefaults(cfg)

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			TemplateDir:         "./templates",
			MaxBatchWords:       120,
			GapMergeThreshold:   10,
			DefaultScanInterval: 30,
			InterRequestDelayMs: 25,
			PollTickMs:          250,
			ConnectTimeout:      10,
			RequestTimeout:      5,
			ReconnectInterval:   60,
			ErrorLogWindow:      3600,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/graymodbus.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graymodbus-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		TSDB: TSDBConfig{
			URL:           "http://localhost:8428",
			BatchSize:     1000,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyDeviceDefaults fills unset per-device connection fields.
func applyDeviceDefaults(cfg *Config) {
	for i := range cfg.Devices {
		dev := &cfg.Devices[i]
		if dev.Connection.Mode == "" {
			dev.Connection.Mode = "tcp"
		}
		if dev.Connection.Port == 0 {
			dev.Connection.Port = 502
		}
		if dev.Connection.BaudRate == 0 {
			dev.Connection.BaudRate = 9600
		}
		if dev.Connection.DataBits == 0 {
			dev.Connection.DataBits = 8
		}
		if dev.Connection.Parity == "" {
			dev.Connection.Parity = "N"
		}
		if dev.Connection.StopBits == 0 {
			dev.Connection.StopBits = 1
		}
		if dev.SlaveID == 0 {
			dev.SlaveID = 1
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYMODBUS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Engine
	if v := os.Getenv("GRAYMODBUS_TEMPLATE_DIR"); v != "" {
		cfg.Engine.TemplateDir = v
	}

	// Database
	if v := os.Getenv("GRAYMODBUS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYMODBUS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYMODBUS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYMODBUS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYMODBUS_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYMODBUS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// TSDB
	if v := os.Getenv("GRAYMODBUS_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Engine validation
	if c.Engine.TemplateDir == "" {
		errs = append(errs, "engine.template_dir is required")
	}
	if c.Engine.MaxBatchWords < 1 || c.Engine.MaxBatchWords > 123 {
		errs = append(errs, "engine.max_batch_words must be between 1 and 123")
	}
	if c.Engine.GapMergeThreshold < 0 {
		errs = append(errs, "engine.gap_merge_threshold must not be negative")
	}
	if c.Engine.DefaultScanInterval < 1 {
		errs = append(errs, "engine.default_scan_interval must be at least 1 second")
	}
	if c.Engine.ConnectTimeout < 1 {
		errs = append(errs, "engine.connect_timeout must be at least 1 second")
	}
	if c.Engine.RequestTimeout < 1 {
		errs = append(errs, "engine.request_timeout must be at least 1 second")
	}
	if c.Engine.ReconnectInterval < 1 {
		errs = append(errs, "engine.reconnect_interval must be at least 1 second")
	}

	// Device validation
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if dev.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[dev.Name] {
			errs = append(errs, prefix+".name duplicates "+dev.Name)
		} else {
			seen[dev.Name] = true
		}
		if dev.Template == "" {
			errs = append(errs, prefix+".template is required")
		}
		if dev.SlaveID < 1 || dev.SlaveID > 247 {
			errs = append(errs, prefix+".slave_id must be between 1 and 247")
		}
		switch dev.Connection.Mode {
		case "tcp":
			if dev.Connection.Host == "" {
				errs = append(errs, prefix+".connection.host is required for tcp mode")
			}
			if dev.Connection.Port < 1 || dev.Connection.Port > 65535 {
				errs = append(errs, prefix+".connection.port must be between 1 and 65535")
			}
		case "rtu":
			if dev.Connection.SerialDevice == "" {
				errs = append(errs, prefix+".connection.serial_device is required for rtu mode")
			}
		default:
			errs = append(errs, prefix+".connection.mode must be tcp or rtu")
		}
		if dev.GapMergeThreshold != nil && *dev.GapMergeThreshold < 0 {
			errs = append(errs, prefix+".gap_merge_threshold must not be negative")
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetConnectTimeout returns the Modbus connect timeout as a Duration.
func (e EngineConfig) GetConnectTimeout() time.Duration {
	return time.Duration(e.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the per-request Modbus timeout as a Duration.
func (e EngineConfig) GetRequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeout) * time.Second
}

// GetReconnectInterval returns the fixed reconnect interval as a Duration.
func (e EngineConfig) GetReconnectInterval() time.Duration {
	return time.Duration(e.ReconnectInterval) * time.Second
}

// GetErrorLogWindow returns the error suppression window as a Duration.
func (e EngineConfig) GetErrorLogWindow() time.Duration {
	return time.Duration(e.ErrorLogWindow) * time.Second
}

// GetDefaultScanInterval returns the default register scan interval as a Duration.
func (e EngineConfig) GetDefaultScanInterval() time.Duration {
	return time.Duration(e.DefaultScanInterval) * time.Second
}

// GetInterRequestDelay returns the delay between group reads as a Duration.
func (e EngineConfig) GetInterRequestDelay() time.Duration {
	return time.Duration(e.InterRequestDelayMs) * time.Millisecond
}

// GetPollTick returns the scheduler tick resolution as a Duration.
func (e EngineConfig) GetPollTick() time.Duration {
	return time.Duration(e.PollTickMs) * time.Millisecond
}
