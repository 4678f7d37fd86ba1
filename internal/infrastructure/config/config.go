package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the NASA bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	NASA      NASAConfig      `yaml:"nasa"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BridgeConfig identifies this bridge instance on MQTT.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// HealthInterval is the health publish period in seconds.
	HealthInterval int `yaml:"health_interval"`

	// WaterOutletControl makes target temperature commands in heat/cool
	// write the water outlet target instead of the room target.
	WaterOutletControl bool `yaml:"water_outlet_control"`
}

// NASAConfig contains the heat pump bus connection and engine settings.
type NASAConfig struct {
	// URL is the bridge endpoint: tcp://host:port, ws(s)://..., serial:///dev/tty...
	// When empty, Host and Port are used.
	URL  string `yaml:"url"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ClientAddress is our source address on the bus, "80.FF.00" form.
	ClientAddress string `yaml:"client_address"`

	// Devices lists the unit addresses to track, e.g. "20.00.00".
	Devices []string `yaml:"devices"`

	// Tracked overrides the polled attributes per device address.
	// Values are hex ids or catalog names.
	Tracked map[string][]string `yaml:"tracked"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DisablePolling  bool          `yaml:"disable_polling"`

	Backoff NASABackoffConfig `yaml:"backoff"`
	Resync  NASAResyncConfig  `yaml:"resync"`

	// CatalogFile layers extra attribute definitions over the built-in table.
	CatalogFile string `yaml:"catalog_file"`

	// Gateway optionally runs the local serial-to-TCP daemon the URL points at.
	Gateway NASAGatewayConfig `yaml:"gateway"`
}

// NASAGatewayConfig describes a locally supervised serial-to-TCP daemon
// such as ser2net.
type NASAGatewayConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Binary       string        `yaml:"binary"`
	Args         []string      `yaml:"args"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	MaxRestarts  int           `yaml:"max_restarts"`

	// CheckInterval is how often the endpoint is dialled to check the
	// daemon still accepts connections. 0 disables probing.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// NASABackoffConfig tunes bridge reconnection delays.
type NASABackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Jitter  float64       `yaml:"jitter"`
}

// NASAResyncConfig selects the decoder's recovery heuristic.
type NASAResyncConfig struct {
	Strategy string `yaml:"strategy"` // next_start or skip_n
	SkipN    int    `yaml:"skip_n"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// SnapshotInterval is how often attribute values are persisted, in seconds.
	// 0 disables periodic snapshots; a final one is still written on shutdown.
	SnapshotInterval int `yaml:"snapshot_interval"`

	// HistoryRetention is how long attribute history is kept, in days.
	// 0 keeps history forever.
	HistoryRetention int `yaml:"history_retention"`
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

// String hides the password.
func (a MQTTAuthConfig) String() string {
	return fmt.Sprintf("{Username:%s Password:%s}", a.Username, redact(a.Password))
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
}

// WebSocketConfig contains the change stream settings.
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

// String hides the token.
func (c InfluxDBConfig) String() string {
	return fmt.Sprintf("{Enabled:%t URL:%s Token:%s Org:%s Bucket:%s}", c.Enabled, c.URL, redact(c.Token), c.Org, c.Bucket)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NASABRIDGE_SECTION_KEY
// For example: NASABRIDGE_NASA_URL, NASABRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is operator configuration
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
// applied, for running without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "nasa-bridge-01",
			HealthInterval: 30,
		},
		NASA: NASAConfig{
			Port:            8899,
			ClientAddress:   "80.FF.00",
			PollInterval:    15 * time.Second,
			ReadTimeout:     3 * time.Second,
			RequestTimeout:  3 * time.Second,
			IdleTimeout:     2 * time.Minute,
			Backoff:         NASABackoffConfig{Initial: time.Second, Max: time.Minute, Jitter: 0.1},
			Resync:          NASAResyncConfig{Strategy: "next_start", SkipN: 1},
			Gateway: NASAGatewayConfig{
				RestartDelay:  2 * time.Second,
				CheckInterval: 30 * time.Second,
			},
		},
		Database: DatabaseConfig{
			Path:             "./data/nasabridge.db",
			WALMode:          true,
			BusyTimeout:      5,
			SnapshotInterval: 300,
			HistoryRetention: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "nasabridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "nasabridge",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NASABRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge connection
	if v := os.Getenv("NASABRIDGE_NASA_URL"); v != "" {
		cfg.NASA.URL = v
	}
	if v := os.Getenv("NASABRIDGE_NASA_HOST"); v != "" {
		cfg.NASA.Host = v
	}
	if v := os.Getenv("NASABRIDGE_NASA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NASA.Port = port
		}
	}
	if v := os.Getenv("NASABRIDGE_NASA_DEVICES"); v != "" {
		cfg.NASA.Devices = splitList(v)
	}

	// Database
	if v := os.Getenv("NASABRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NASABRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NASABRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NASABRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("NASABRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("NASABRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("NASABRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
//
// All problems are collected so an operator sees every mistake at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	// NASA validation
	if c.NASA.URL == "" && c.NASA.Host == "" {
		errs = append(errs, "nasa.url or nasa.host is required (set NASABRIDGE_NASA_URL)")
	}
	if c.NASA.URL == "" && (c.NASA.Port < 1 || c.NASA.Port > 65535) {
		errs = append(errs, "nasa.port must be between 1 and 65535")
	}
	if c.NASA.PollInterval < 0 || c.NASA.ReadTimeout < 0 || c.NASA.RequestTimeout < 0 {
		errs = append(errs, "nasa timeouts must not be negative")
	}
	if c.NASA.PollInterval > 0 && c.NASA.ReadTimeout >= c.NASA.PollInterval {
		errs = append(errs, "nasa.read_timeout must be shorter than nasa.poll_interval")
	}
	if c.NASA.Gateway.Enabled {
		if c.NASA.Gateway.Binary == "" {
			errs = append(errs, "nasa.gateway.binary is required when the gateway is enabled")
		}
		if !strings.HasPrefix(c.NASA.Endpoint(), "tcp://") {
			errs = append(errs, "nasa.gateway requires a tcp:// endpoint")
		}
		if c.NASA.Gateway.RestartDelay < 0 || c.NASA.Gateway.CheckInterval < 0 || c.NASA.Gateway.MaxRestarts < 0 {
			errs = append(errs, "nasa.gateway settings must not be negative")
		}
	}
	switch c.NASA.Resync.Strategy {
	case "", "next_start", "skip_n":
	default:
		errs = append(errs, "nasa.resync.strategy must be next_start or skip_n")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.SnapshotInterval < 0 || c.Database.HistoryRetention < 0 {
		errs = append(errs, "database intervals must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
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

// GetHealthInterval returns the bridge health publish period.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetSnapshotInterval returns the attribute snapshot period.
func (c *Config) GetSnapshotInterval() time.Duration {
	return time.Duration(c.Database.SnapshotInterval) * time.Second
}

// GetHistoryRetention returns how long attribute history is kept.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetention) * 24 * time.Hour
}

// Endpoint returns the configured bridge location in URL form.
func (n NASAConfig) Endpoint() string {
	if n.URL != "" {
		return n.URL
	}
	return fmt.Sprintf("tcp://%s:%d", n.Host, n.Port)
}
