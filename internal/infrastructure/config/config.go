package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for labdash.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains the relay server's upstream broker settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
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

// MQTTTopicsConfig names the lab node topics.
type MQTTTopicsConfig struct {
	// Data is where nodes publish their reports.
	Data string `yaml:"data"`

	// CommandResponse is the filter for node command acknowledgements.
	CommandResponse string `yaml:"command_response"`

	// CommandPrefix is prefixed to a device ID to address commands.
	CommandPrefix string `yaml:"command_prefix"`
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

// WebSocketConfig contains relay WebSocket server settings.
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables bearer-token checks on the relay.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// DashboardConfig contains the operator-side client settings used by labctl.
type DashboardConfig struct {
	Relay     RelayClientConfig  `yaml:"relay"`
	Broker    BrokerClientConfig `yaml:"broker"`
	History   HistoryConfig      `yaml:"history"`
	TokenFile string             `yaml:"token_file"`
}

// RelayClientConfig describes how the dashboard reaches the relay server.
type RelayClientConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Path             string `yaml:"path"`
	TLS              bool   `yaml:"tls"`
	ReconnectDelayMS int    `yaml:"reconnect_delay_ms"`
	HeartbeatMS      int    `yaml:"heartbeat_ms"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`

	// TogglePolicy is "keep" (optimistic toggles survive dropped commands)
	// or "rollback".
	TogglePolicy string `yaml:"toggle_policy"`
}

// BrokerClientConfig holds defaults for the direct broker channel.
type BrokerClientConfig struct {
	Address           string `yaml:"address"`
	Port              int    `yaml:"port"`
	Path              string `yaml:"path"`
	Scheme            string `yaml:"scheme"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ClientIDPrefix    string `yaml:"client_id_prefix"`
	KeepAlive         int    `yaml:"keep_alive"`
	ReconnectPeriodMS int    `yaml:"reconnect_period_ms"`
	ConnectTimeoutMS  int    `yaml:"connect_timeout_ms"`
	LogCapacity       int    `yaml:"log_capacity"`
}

// HistoryConfig configures the sensor history charts.
type HistoryConfig struct {
	IntervalMS int `yaml:"interval_ms"`
	Capacity   int `yaml:"capacity"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LABDASH_SECTION_KEY
// For example: LABDASH_DATABASE_PATH, LABDASH_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/labdash.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "labdash-relay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Topics: MQTTTopicsConfig{
				Data:            "iot/data",
				CommandResponse: "iot/command-response/#",
				CommandPrefix:   "iot/command/",
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
		InfluxDB: InfluxDBConfig{
			Org:           "iot-lab",
			Bucket:        "telemetry",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 1440,
			},
		},
		Dashboard: DashboardConfig{
			Relay: RelayClientConfig{
				Host:             "localhost",
				Port:             8080,
				Path:             "/api/v1/ws",
				ReconnectDelayMS: 5000,
				HeartbeatMS:      4000,
				ConnectTimeoutMS: 4000,
				TogglePolicy:     "keep",
			},
			Broker: BrokerClientConfig{
				Port:              9001,
				Path:              "/mqtt",
				Scheme:            "ws",
				ClientIDPrefix:    "mqtt-client",
				KeepAlive:         60,
				ReconnectPeriodMS: 1000,
				ConnectTimeoutMS:  4000,
				LogCapacity:       3,
			},
			History: HistoryConfig{
				IntervalMS: 2000,
				Capacity:   10,
			},
			TokenFile: "~/.config/labdash/tokens.yaml",
		},
	}
}

// envPrefix namespaces every override variable.
const envPrefix = "LABDASH_"

// envBindings maps LABDASH_<key> to the field it overrides. Malformed
// numbers and booleans are ignored so a bad variable cannot unset a value.
var envBindings = []struct {
	key   string
	apply func(c *Config, v string)
}{
	{"DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"MQTT_PORT", func(c *Config, v string) { setInt(&c.MQTT.Broker.Port, v) }},
	{"MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"API_HOST", func(c *Config, v string) { c.API.Host = v }},
	{"API_PORT", func(c *Config, v string) { setInt(&c.API.Port, v) }},
	{"INFLUXDB_ENABLED", func(c *Config, v string) { setBool(&c.InfluxDB.Enabled, v) }},
	{"INFLUXDB_URL", func(c *Config, v string) { c.InfluxDB.URL = v }},
	{"INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
	{"LOG_FORMAT", func(c *Config, v string) { c.Logging.Format = v }},
	{"JWT_SECRET", func(c *Config, v string) { c.Security.JWT.Secret = v }},
	{"RELAY_HOST", func(c *Config, v string) { c.Dashboard.Relay.Host = v }},
	{"RELAY_PORT", func(c *Config, v string) { setInt(&c.Dashboard.Relay.Port, v) }},
	{"BROKER_ADDRESS", func(c *Config, v string) { c.Dashboard.Broker.Address = v }},
	{"BROKER_PORT", func(c *Config, v string) { setInt(&c.Dashboard.Broker.Port, v) }},
	{"BROKER_USERNAME", func(c *Config, v string) { c.Dashboard.Broker.Username = v }},
	{"BROKER_PASSWORD", func(c *Config, v string) { c.Dashboard.Broker.Password = v }},
	{"TOKEN_FILE", func(c *Config, v string) { c.Dashboard.TokenFile = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, b := range envBindings {
		if v := os.Getenv(envPrefix + b.key); v != "" {
			b.apply(cfg, v)
		}
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		*dst = b
	}
}

// minJWTSecretLength applies only when a secret is set; an empty secret
// leaves the relay open.
const minJWTSecretLength = 32

// Validate reports every problem at once, joined with "; ".
func (c *Config) Validate() error {
	var p problems

	p.require(c.Database.Path != "", "database.path is required")
	p.require(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	p.require(c.MQTT.Topics.Data != "" && c.MQTT.Topics.CommandPrefix != "",
		"mqtt.topics.data and mqtt.topics.command_prefix are required")
	p.port(c.API.Port, "api.port")
	p.require(!c.InfluxDB.Enabled || c.InfluxDB.URL != "", "influxdb.url is required when influxdb is enabled")
	p.require(c.Security.JWT.Secret == "" || len(c.Security.JWT.Secret) >= minJWTSecretLength,
		"security.jwt.secret must be at least 32 characters")
	c.Dashboard.validate(&p)

	if len(p) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(p, "; "))
	}
	return nil
}

func (d DashboardConfig) validate(p *problems) {
	p.port(d.Relay.Port, "dashboard.relay.port")
	p.oneOf(strings.ToLower(d.Relay.TogglePolicy), "dashboard.relay.toggle_policy must be keep or rollback", "", "keep", "rollback")
	p.port(d.Broker.Port, "dashboard.broker.port")
	p.oneOf(d.Broker.Scheme, "dashboard.broker.scheme must be ws or wss", "", "ws", "wss")
	p.require(d.Broker.LogCapacity >= 0, "dashboard.broker.log_capacity cannot be negative")
	p.require(d.History.Capacity >= 0 && d.History.IntervalMS >= 0, "dashboard.history values cannot be negative")
}

// problems collects validation failures.
type problems []string

func (p *problems) require(ok bool, msg string) {
	if !ok {
		*p = append(*p, msg)
	}
}

func (p *problems) port(n int, field string) {
	p.require(n >= 1 && n <= 65535, field+" must be between 1 and 65535")
}

func (p *problems) oneOf(v, msg string, allowed ...string) {
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	*p = append(*p, msg)
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

// ReconnectDelay returns the relay reconnect delay.
func (r RelayClientConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelayMS) * time.Millisecond
}

// Heartbeat returns the relay heartbeat interval.
func (r RelayClientConfig) Heartbeat() time.Duration {
	return time.Duration(r.HeartbeatMS) * time.Millisecond
}

// ConnectTimeout returns the relay handshake timeout.
func (r RelayClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

// KeepAliveDuration returns the broker keepalive interval.
func (b BrokerClientConfig) KeepAliveDuration() time.Duration {
	return time.Duration(b.KeepAlive) * time.Second
}

// ReconnectPeriod returns the broker reconnect period.
func (b BrokerClientConfig) ReconnectPeriod() time.Duration {
	return time.Duration(b.ReconnectPeriodMS) * time.Millisecond
}

// ConnectTimeout returns the broker handshake timeout.
func (b BrokerClientConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutMS) * time.Millisecond
}

// Interval returns the history commit interval.
func (h HistoryConfig) Interval() time.Duration {
	return time.Duration(h.IntervalMS) * time.Millisecond
}
