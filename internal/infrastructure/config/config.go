package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/brokerconfig"
)

// Config source kinds.
const (
	// SourceStatic resolves identities from the broker and identities sections.
	SourceStatic = "static"

	// SourceDatabase resolves identities from the SQLite broker_configs table,
	// falling back to the broker section.
	SourceDatabase = "database"
)

// Config is the root configuration structure for the MQTT bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker       brokerconfig.Config            `yaml:"broker"`
	Identities   map[string]brokerconfig.Config `yaml:"identities"`
	ConfigSource string                         `yaml:"config_source"`
	Database     DatabaseConfig                 `yaml:"database"`
	Session      SessionConfig                  `yaml:"session"`
	Dispatcher   DispatcherConfig               `yaml:"dispatcher"`
	Sessions     []AutostartConfig              `yaml:"sessions"`
	InfluxDB     InfluxDBConfig                 `yaml:"influxdb"`
	API          APIConfig                      `yaml:"api"`
	WebSocket    WebSocketConfig                `yaml:"websocket"`
	Security     SecurityConfig                 `yaml:"security"`
	Logging      LoggingConfig                  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// SessionConfig contains per-session timeouts.
type SessionConfig struct {
	// ConnectTimeout bounds the Connect state. Default: 9.5s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// OperationTimeout bounds a single subscribe, unsubscribe or publish.
	// Default: 30s
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// DispatcherConfig contains session dispatcher settings.
type DispatcherConfig struct {
	// ConnectRate is the number of connect requests accepted per second.
	// Zero disables limiting.
	ConnectRate float64 `yaml:"connect_rate"`

	// ConnectBurst is the number of connect requests accepted at once.
	ConnectBurst int `yaml:"connect_burst"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around the config source.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// AutostartConfig describes a session started when the bridge boots.
type AutostartConfig struct {
	Key          string      `yaml:"key"`
	Identity     string      `yaml:"identity"`
	CleanSession bool        `yaml:"clean_session"`
	Will         *WillConfig `yaml:"will"`

	// AutoAck acknowledges every inbound message for this session. Without
	// it, another bus listener must answer publishToClient requests.
	AutoAck bool `yaml:"auto_ack"`

	// Subscriptions are topic filters subscribed once the session connects.
	Subscriptions []string `yaml:"subscriptions"`
}

// WillConfig is a last-will message for an autostart session.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Message string `yaml:"message"`
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

// APIConfig contains HTTP admin API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// WebSocketConfig contains bus gateway WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the lifetime of issued tokens in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
// For example: MQTTBRIDGE_BROKER_URL, MQTTBRIDGE_DATABASE_PATH
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
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

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
		ConfigSource: SourceStatic,
		Database: DatabaseConfig{
			Path:        "./data/mqttbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Session: SessionConfig{
			ConnectTimeout:   9500 * time.Millisecond,
			OperationTimeout: 30 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			ConnectBurst: 10,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
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
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("MQTTBRIDGE_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("MQTTBRIDGE_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("MQTTBRIDGE_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	// Database
	if v := os.Getenv("MQTTBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("MQTTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("MQTTBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Security - JWT secret should always come from the environment in production
	if v := os.Getenv("MQTTBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Config source validation
	switch c.ConfigSource {
	case SourceStatic:
		if c.Broker.URL == "" && len(c.Identities) == 0 && len(c.Sessions) > 0 {
			errs = append(errs, "broker.url or identities are required for autostart sessions")
		}
	case SourceDatabase:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when config_source is database")
		}
	default:
		errs = append(errs, fmt.Sprintf("config_source must be %q or %q", SourceStatic, SourceDatabase))
	}

	for identity, entry := range c.Identities {
		if identity == "" {
			errs = append(errs, "identities must not contain an empty identity")
		}
		if entry.URL == "" && c.Broker.URL == "" {
			errs = append(errs, fmt.Sprintf("identities.%s.url is required when broker.url is empty", identity))
		}
	}

	// Session validation
	if c.Session.ConnectTimeout <= 0 {
		errs = append(errs, "session.connect_timeout must be positive")
	}
	if c.Session.OperationTimeout <= 0 {
		errs = append(errs, "session.operation_timeout must be positive")
	}

	// Dispatcher validation
	if c.Dispatcher.ConnectRate < 0 {
		errs = append(errs, "dispatcher.connect_rate must not be negative")
	}
	if c.Dispatcher.ConnectBurst < 0 {
		errs = append(errs, "dispatcher.connect_burst must not be negative")
	}

	// Autostart validation
	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.Key == "" {
			errs = append(errs, fmt.Sprintf("sessions[%d].key is required", i))
		} else if seen[s.Key] {
			errs = append(errs, fmt.Sprintf("sessions[%d].key %q is duplicated", i, s.Key))
		}
		seen[s.Key] = true
		if s.Identity == "" {
			errs = append(errs, fmt.Sprintf("sessions[%d].identity is required", i))
		}
		if s.Will != nil && s.Will.Topic == "" {
			errs = append(errs, fmt.Sprintf("sessions[%d].will.topic is required when will is set", i))
		}
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// API validation
	if c.API.Enabled {
		errs = append(errs, c.validateAPI()...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// minJWTSecretLength is the shortest accepted HS256 signing secret.
const minJWTSecretLength = 32

// validateAPI checks the settings used only when the admin API is enabled.
func (c *Config) validateAPI() []string {
	var errs []string
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
	}
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required when api is enabled (set MQTTBRIDGE_JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}
	return errs
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

// GetTokenTTL returns the JWT access token lifetime as a Duration.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// DefaultBroker returns the broker section as a fallback configuration, or
// nil when it has no url.
func (c *Config) DefaultBroker() *brokerconfig.Config {
	if c.Broker.URL == "" {
		return nil
	}
	return c.Broker.Clone()
}

// BrokerTable builds the static identity table from the broker and
// identities sections.
func (c *Config) BrokerTable() *brokerconfig.Table {
	identities := make(map[string]brokerconfig.Config, len(c.Identities))
	for id, entry := range c.Identities {
		identities[id] = entry
	}
	return &brokerconfig.Table{
		Default:    c.DefaultBroker(),
		Identities: identities,
	}
}
