package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.lab.local"
    port: 1883
    client_id: "test-relay"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
dashboard:
  broker:
    address: "iot.example.com"
    port: 9001
    log_capacity: 5
  relay:
    toggle_policy: rollback
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.lab.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.lab.local")
	}
	if cfg.Dashboard.Broker.Address != "iot.example.com" || cfg.Dashboard.Broker.LogCapacity != 5 {
		t.Errorf("Dashboard.Broker = %+v", cfg.Dashboard.Broker)
	}
	// Unset fields keep their defaults.
	if cfg.Dashboard.Broker.Path != "/mqtt" || cfg.MQTT.Topics.Data != "iot/data" {
		t.Errorf("defaults lost: path=%q data=%q", cfg.Dashboard.Broker.Path, cfg.MQTT.Topics.Data)
	}
	if cfg.Dashboard.Relay.TogglePolicy != "rollback" {
		t.Errorf("TogglePolicy = %q", cfg.Dashboard.Relay.TogglePolicy)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: ""
api:
  port: 8080
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty database.path, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"with JWT secret", func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, ""},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"missing data topic", func(c *Config) { c.MQTT.Topics.Data = "" }, "mqtt.topics"},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, "jwt.secret"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"bad toggle policy", func(c *Config) { c.Dashboard.Relay.TogglePolicy = "maybe" }, "toggle_policy"},
		{"bad broker scheme", func(c *Config) { c.Dashboard.Broker.Scheme = "tcp" }, "broker.scheme"},
		{"bad broker port", func(c *Config) { c.Dashboard.Broker.Port = 0 }, "broker.port"},
		{"negative history", func(c *Config) { c.Dashboard.History.Capacity = -1 }, "history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.Path = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "database.path") || !strings.Contains(err.Error(), "api.port") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
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

func TestDashboardDurations(t *testing.T) {
	d := defaultConfig().Dashboard

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"relay reconnect", d.Relay.ReconnectDelay(), 5 * time.Second},
		{"relay heartbeat", d.Relay.Heartbeat(), 4 * time.Second},
		{"relay timeout", d.Relay.ConnectTimeout(), 4 * time.Second},
		{"broker keepalive", d.Broker.KeepAliveDuration(), 60 * time.Second},
		{"broker reconnect", d.Broker.ReconnectPeriod(), time.Second},
		{"broker timeout", d.Broker.ConnectTimeout(), 4 * time.Second},
		{"history interval", d.History.Interval(), 2 * time.Second},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("LABDASH_DATABASE_PATH", "/custom/path.db")
	t.Setenv("LABDASH_MQTT_HOST", "mqtt.example.com")
	t.Setenv("LABDASH_MQTT_PORT", "8883")
	t.Setenv("LABDASH_MQTT_USERNAME", "testuser")
	t.Setenv("LABDASH_MQTT_PASSWORD", "testpass")
	t.Setenv("LABDASH_API_HOST", "192.168.1.1")
	t.Setenv("LABDASH_API_PORT", "not-a-number")
	t.Setenv("LABDASH_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("LABDASH_JWT_SECRET", "jwt-secret")
	t.Setenv("LABDASH_BROKER_ADDRESS", "wss://broker.lab.io")
	t.Setenv("LABDASH_TOKEN_FILE", "/run/labdash/token")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port (unparseable ignored)", cfg.API.Port, 8080},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
		{"Dashboard.Broker.Address", cfg.Dashboard.Broker.Address, "wss://broker.lab.io"},
		{"Dashboard.TokenFile", cfg.Dashboard.TokenFile, "/run/labdash/token"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Dashboard.Broker.Port != 9001 || cfg.Dashboard.Broker.ClientIDPrefix != "mqtt-client" {
		t.Errorf("defaultConfig Dashboard.Broker = %+v", cfg.Dashboard.Broker)
	}
	if cfg.Dashboard.History.Capacity != 10 {
		t.Errorf("defaultConfig History.Capacity = %d, want 10", cfg.Dashboard.History.Capacity)
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("LABDASH_JWT_SECRET", "short")
	if _, err := Default(); err == nil {
		t.Error("Default() accepted a short JWT secret from the environment")
	}
}

func TestApplyEnvOverrides_BoolAndPorts(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		verify func(*testing.T, *Config)
	}{
		{
			name: "influx enabled",
			env:  map[string]string{"LABDASH_INFLUXDB_ENABLED": "true"},
			verify: func(t *testing.T, c *Config) {
				if !c.InfluxDB.Enabled {
					t.Error("InfluxDB.Enabled = false, want true")
				}
			},
		},
		{
			name: "malformed bool ignored",
			env:  map[string]string{"LABDASH_INFLUXDB_ENABLED": "sometimes"},
			verify: func(t *testing.T, c *Config) {
				if c.InfluxDB.Enabled {
					t.Error("InfluxDB.Enabled changed by malformed value")
				}
			},
		},
		{
			name: "relay and broker ports",
			env:  map[string]string{"LABDASH_RELAY_PORT": " 9001 ", "LABDASH_BROKER_PORT": "8884"},
			verify: func(t *testing.T, c *Config) {
				if c.Dashboard.Relay.Port != 9001 || c.Dashboard.Broker.Port != 8884 {
					t.Errorf("ports = %d/%d, want 9001/8884", c.Dashboard.Relay.Port, c.Dashboard.Broker.Port)
				}
			},
		},
		{
			name: "log format",
			env:  map[string]string{"LABDASH_LOG_FORMAT": "text"},
			verify: func(t *testing.T, c *Config) {
				if c.Logging.Format != "text" {
					t.Errorf("Logging.Format = %q, want text", c.Logging.Format)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			tt.verify(t, cfg)
		})
	}
}
