package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ESD core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	TSDB      TSDBConfig      `yaml:"tsdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the installation the core controls.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// InfluxDB receives step and execution outcome metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// TSDBConfig contains VictoriaMetrics settings.
// The TSDB stores tag value history and serves as the fallback tag source.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SequencerConfig tunes the execution engine.
type SequencerConfig struct {
	// DefinitionsPath is a YAML file or directory imported into the catalog at startup.
	DefinitionsPath string `yaml:"definitions_path"`

	// CommandRetries is the number of resends after a failed first attempt.
	CommandRetries int `yaml:"command_retries"`

	// RetryBackoffMS is the linear backoff unit. Retry n waits n * RetryBackoffMS.
	RetryBackoffMS int `yaml:"retry_backoff_ms"`

	// AckTimeoutMS bounds the wait for a single DCS acknowledgement.
	AckTimeoutMS int `yaml:"ack_timeout_ms"`

	PermissiveWaitSeconds     int  `yaml:"permissive_wait_seconds"`
	PollIntervalMS            int  `yaml:"poll_interval_ms"`
	DefaultStepTimeoutSeconds int  `yaml:"default_step_timeout_seconds"`
	TagMaxAgeSeconds          int  `yaml:"tag_max_age_seconds"`
	AssetLocking              bool `yaml:"asset_locking"`

	// DCSSystem is the MQTT routing key of the DCS bridge.
	DCSSystem string `yaml:"dcs_system"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT       JWTConfig        `yaml:"jwt"`
	Operators []OperatorConfig `yaml:"operators"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// OperatorConfig is a console account allowed to drive executions.
// PasswordHash is an argon2id PHC string.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ESD_SECTION_KEY
// For example: ESD_DATABASE_PATH, ESD_API_PORT
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "ESD Core",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/esd.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "esd-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
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
			URL:           "http://127.0.0.1:8428",
			BatchSize:     500,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sequencer: SequencerConfig{
			CommandRetries:            3,
			RetryBackoffMS:            1000,
			AckTimeoutMS:              5000,
			PermissiveWaitSeconds:     30,
			PollIntervalMS:            1000,
			DefaultStepTimeoutSeconds: 120,
			TagMaxAgeSeconds:          30,
			AssetLocking:              true,
			DCSSystem:                 "dcs",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESD_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}
	if v := os.Getenv("ESD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ESD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ESD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ESD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ESD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ESD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("ESD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("ESD_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}

	if v := os.Getenv("ESD_SEQUENCER_DEFINITIONS_PATH"); v != "" {
		cfg.Sequencer.DefinitionsPath = v
	}
	if v := os.Getenv("ESD_SEQUENCER_DCS_SYSTEM"); v != "" {
		cfg.Sequencer.DCSSystem = v
	}

	// Always override in production.
	if v := os.Getenv("ESD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	s := c.Sequencer
	if s.CommandRetries < 0 {
		errs = append(errs, "sequencer.command_retries must not be negative")
	}
	if s.AckTimeoutMS <= 0 {
		errs = append(errs, "sequencer.ack_timeout_ms must be positive")
	}
	if s.PollIntervalMS <= 0 {
		errs = append(errs, "sequencer.poll_interval_ms must be positive")
	}
	if s.DefaultStepTimeoutSeconds <= 0 {
		errs = append(errs, "sequencer.default_step_timeout_seconds must be positive")
	}
	if s.DCSSystem == "" {
		errs = append(errs, "sequencer.dcs_system is required")
	}

	// A forged token can drive a plant shutdown.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ESD_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	for i, op := range c.Security.Operators {
		if op.Username == "" || op.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("security.operators[%d] needs username and password_hash", i))
		}
		if op.Role != "operator" && op.Role != "supervisor" {
			errs = append(errs, fmt.Sprintf("security.operators[%d].role must be operator or supervisor", i))
		}
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

// AckTimeout returns the per-attempt DCS acknowledgement timeout.
func (s SequencerConfig) AckTimeout() time.Duration {
	return time.Duration(s.AckTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the linear backoff unit between command attempts.
func (s SequencerConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMS) * time.Millisecond
}

// PollInterval returns the permissive and condition re-poll interval.
func (s SequencerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// PermissiveWait returns how long a stage waits for its permissives.
func (s SequencerConfig) PermissiveWait() time.Duration {
	return time.Duration(s.PermissiveWaitSeconds) * time.Second
}

// DefaultStepTimeout applies to steps stored with a zero timeout.
func (s SequencerConfig) DefaultStepTimeout() time.Duration {
	return time.Duration(s.DefaultStepTimeoutSeconds) * time.Second
}

// TagMaxAge returns the age after which a cached tag value is stale.
func (s SequencerConfig) TagMaxAge() time.Duration {
	return time.Duration(s.TagMaxAgeSeconds) * time.Second
}
