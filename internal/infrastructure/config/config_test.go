package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
engine:
  template_dir: "./templates"
  max_batch_words: 100
  gap_merge_threshold: 8
devices:
  - name: "inverter"
    template: "sun-hybrid"
    connection:
      host: "192.168.1.50"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.MaxBatchWords != 100 {
		t.Errorf("Engine.MaxBatchWords = %d, want 100", cfg.Engine.MaxBatchWords)
	}

	if cfg.Engine.GapMergeThreshold != 8 {
		t.Errorf("Engine.GapMergeThreshold = %d, want 8", cfg.Engine.GapMergeThreshold)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	if len(cfg.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(cfg.Devices))
	}

	// Unset connection fields are filled with defaults
	dev := cfg.Devices[0]
	if dev.Connection.Mode != "tcp" {
		t.Errorf("Connection.Mode = %q, want %q", dev.Connection.Mode, "tcp")
	}
	if dev.Connection.Port != 502 {
		t.Errorf("Connection.Port = %d, want 502", dev.Connection.Port)
	}
	if dev.SlaveID != 1 {
		t.Errorf("SlaveID = %d, want 1", dev.SlaveID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
engine:
  template_dir: ""
database:
  path: "/tmp/test.db"
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty engine.template_dir, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	// defaultConfig passes validation with an empty device list; each case
	// mutates one aspect.
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "valid device",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    11,
					Connection: ConnectionConfig{Mode: "tcp", Host: "10.0.0.2", Port: 502},
				}}
			},
			wantErr: false,
		},
		{
			name:    "missing template dir",
			mutate:  func(c *Config) { c.Engine.TemplateDir = "" },
			wantErr: true,
		},
		{
			name:    "batch words too large",
			mutate:  func(c *Config) { c.Engine.MaxBatchWords = 200 },
			wantErr: true,
		},
		{
			name:    "negative gap threshold",
			mutate:  func(c *Config) { c.Engine.GapMergeThreshold = -1 },
			wantErr: true,
		},
		{
			name: "device without name",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Template:   "dtsu666",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "tcp", Host: "10.0.0.2", Port: 502},
				}}
			},
			wantErr: true,
		},
		{
			name: "duplicate device names",
			mutate: func(c *Config) {
				dev := DeviceConfig{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "tcp", Host: "10.0.0.2", Port: 502},
				}
				c.Devices = []DeviceConfig{dev, dev}
			},
			wantErr: true,
		},
		{
			name: "device without template",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "tcp", Host: "10.0.0.2", Port: 502},
				}}
			},
			wantErr: true,
		},
		{
			name: "slave id out of range",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    248,
					Connection: ConnectionConfig{Mode: "tcp", Host: "10.0.0.2", Port: 502},
				}}
			},
			wantErr: true,
		},
		{
			name: "tcp device without host",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "tcp", Port: 502},
				}}
			},
			wantErr: true,
		},
		{
			name: "rtu device without serial device",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "rtu"},
				}}
			},
			wantErr: true,
		},
		{
			name: "unknown connection mode",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{
					Name:       "meter",
					Template:   "dtsu666",
					SlaveID:    1,
					Connection: ConnectionConfig{Mode: "ascii", Host: "10.0.0.2", Port: 502},
				}}
			},
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid API port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestEngineConfig_GetDurations(t *testing.T) {
	eng := EngineConfig{
		DefaultScanInterval: 30,
		InterRequestDelayMs: 25,
		PollTickMs:          250,
		ConnectTimeout:      10,
		RequestTimeout:      5,
		ReconnectInterval:   60,
		ErrorLogWindow:      3600,
	}

	if got := eng.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %v, want 10", got)
	}
	if got := eng.GetRequestTimeout().Seconds(); got != 5 {
		t.Errorf("GetRequestTimeout() = %v, want 5", got)
	}
	if got := eng.GetReconnectInterval().Seconds(); got != 60 {
		t.Errorf("GetReconnectInterval() = %v, want 60", got)
	}
	if got := eng.GetErrorLogWindow().Minutes(); got != 60 {
		t.Errorf("GetErrorLogWindow() = %v minutes, want 60", got)
	}
	if got := eng.GetDefaultScanInterval().Seconds(); got != 30 {
		t.Errorf("GetDefaultScanInterval() = %v, want 30", got)
	}
	if got := eng.GetInterRequestDelay().Milliseconds(); got != 25 {
		t.Errorf("GetInterRequestDelay() = %v ms, want 25", got)
	}
	if got := eng.GetPollTick().Milliseconds(); got != 250 {
		t.Errorf("GetPollTick() = %v ms, want 250", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("GRAYMODBUS_TEMPLATE_DIR", "/custom/templates")
	t.Setenv("GRAYMODBUS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYMODBUS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYMODBUS_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYMODBUS_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYMODBUS_API_HOST", "192.168.1.1")
	t.Setenv("GRAYMODBUS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYMODBUS_TSDB_URL", "http://vm.example.com:8428")

	applyEnvOverrides(cfg)

	if cfg.Engine.TemplateDir != "/custom/templates" {
		t.Errorf("Engine.TemplateDir = %q, want %q", cfg.Engine.TemplateDir, "/custom/templates")
	}

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.TSDB.URL != "http://vm.example.com:8428" {
		t.Errorf("TSDB.URL = %q, want %q", cfg.TSDB.URL, "http://vm.example.com:8428")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Engine.TemplateDir == "" {
		t.Error("defaultConfig should have non-empty Engine.TemplateDir")
	}

	if cfg.Engine.MaxBatchWords != 120 {
		t.Errorf("defaultConfig Engine.MaxBatchWords = %d, want 120", cfg.Engine.MaxBatchWords)
	}

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	// Defaults must pass their own validation
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig().Validate() error = %v", err)
	}
}

func TestApplyDeviceDefaults(t *testing.T) {
	cfg := &Config{
		Devices: []DeviceConfig{
			{Name: "bare"},
			{
				Name: "explicit",
				Connection: ConnectionConfig{
					Mode:     "rtu",
					BaudRate: 19200,
					Parity:   "E",
				},
				SlaveID: 32,
			},
		},
	}

	applyDeviceDefaults(cfg)

	bare := cfg.Devices[0]
	if bare.Connection.Mode != "tcp" || bare.Connection.Port != 502 {
		t.Errorf("bare connection = %+v, want tcp/502 defaults", bare.Connection)
	}
	if bare.Connection.BaudRate != 9600 || bare.Connection.DataBits != 8 ||
		bare.Connection.Parity != "N" || bare.Connection.StopBits != 1 {
		t.Errorf("bare serial defaults = %+v, want 9600/8/N/1", bare.Connection)
	}
	if bare.SlaveID != 1 {
		t.Errorf("bare SlaveID = %d, want 1", bare.SlaveID)
	}

	explicit := cfg.Devices[1]
	if explicit.Connection.Mode != "rtu" {
		t.Errorf("explicit Mode = %q, want rtu", explicit.Connection.Mode)
	}
	if explicit.Connection.BaudRate != 19200 || explicit.Connection.Parity != "E" {
		t.Errorf("explicit serial settings overwritten: %+v", explicit.Connection)
	}
	if explicit.SlaveID != 32 {
		t.Errorf("explicit SlaveID = %d, want 32", explicit.SlaveID)
	}
}
