package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for ziggy.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Zigbee2MQTT Zigbee2MQTTConfig `yaml:"zigbee2mqtt"`
	Fields      FieldsConfig      `yaml:"fields"`
	Devices     DevicesConfig     `yaml:"devices"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keepalive"` // seconds
	QueueSize int                 `yaml:"queue_size"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// UniqueClientID appends a random suffix to ClientID so several
	// replicas can share one broker without taking over each other's session.
	UniqueClientID bool `yaml:"unique_client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig controls the reconnect backoff schedule.
// Delays are durations ("500ms", "1m").
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// Zigbee2MQTTConfig describes where the bridge publishes.
type Zigbee2MQTTConfig struct {
	BaseTopic  string `yaml:"base_topic"`
	BridgeName string `yaml:"bridge_name"`

	// DeviceTopic is an MQTT filter for device topics. "{base}" is replaced
	// with BaseTopic. Default: "{base}/+".
	DeviceTopic string `yaml:"device_topic"`
}

// FieldsConfig seeds the bridge info field registry, keyed by info category.
// A category present here replaces the built-in defaults for that category.
type FieldsConfig map[string][]string

// DevicesConfig contains device activity tracker settings.
type DevicesConfig struct {
	// EvictionTTL removes devices not seen for this long. Zero keeps devices forever.
	EvictionTTL   time.Duration `yaml:"eviction_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// JWTConfig contains JWT settings for the admin routes.
// An empty Secret leaves field mutations unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// minJWTSecretLength is the shortest HS256 secret accepted.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZIGGY_SECTION_KEY
// For example: ZIGGY_MQTT_HOST, ZIGGY_Z2M_BASE_TOPIC
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults + env only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ziggy",
			},
			QoS:       0,
			KeepAlive: 60,
			QueueSize: 1024,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
				Multiplier:   2,
			},
		},
		Zigbee2MQTT: Zigbee2MQTTConfig{
			BaseTopic:   "zigbee2mqtt",
			BridgeName:  "default",
			DeviceTopic: "{base}/+",
		},
		Devices: DevicesConfig{
			SweepInterval: time.Minute,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ZIGGY_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	// MQTT
	if v := os.Getenv("ZIGGY_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, "ZIGGY_MQTT_ENABLED must be a boolean")
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("ZIGGY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ZIGGY_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "ZIGGY_MQTT_PORT must be an integer")
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("ZIGGY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ZIGGY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("ZIGGY_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("ZIGGY_MQTT_KEEPALIVE"); v != "" {
		ka, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "ZIGGY_MQTT_KEEPALIVE must be an integer")
		}
		cfg.MQTT.KeepAlive = ka
	}

	// Zigbee2MQTT
	if v := os.Getenv("ZIGGY_Z2M_BASE_TOPIC"); v != "" {
		cfg.Zigbee2MQTT.BaseTopic = v
	}
	if v := os.Getenv("ZIGGY_Z2M_BRIDGE_NAME"); v != "" {
		cfg.Zigbee2MQTT.BridgeName = v
	}

	// API
	if v := os.Getenv("ZIGGY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ZIGGY_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "ZIGGY_API_PORT must be an integer")
		}
		cfg.API.Port = port
	}

	// Logging
	if v := os.Getenv("ZIGGY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ZIGGY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Security
	if v := os.Getenv("ZIGGY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
		if c.MQTT.Broker.ClientID == "" {
			errs = append(errs, "mqtt.broker.client_id is required")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive must not be negative")
	}
	if c.MQTT.QueueSize < 1 {
		errs = append(errs, "mqtt.queue_size must be at least 1")
	}
	if c.MQTT.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be positive")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}
	if c.MQTT.Reconnect.Multiplier < 1 {
		errs = append(errs, "mqtt.reconnect.multiplier must be >= 1")
	}

	// Zigbee2MQTT validation
	if c.Zigbee2MQTT.BaseTopic == "" {
		errs = append(errs, "zigbee2mqtt.base_topic is required")
	}
	if strings.ContainsAny(c.Zigbee2MQTT.BaseTopic, "+#") {
		errs = append(errs, "zigbee2mqtt.base_topic must not contain wildcards")
	}
	if c.Zigbee2MQTT.BridgeName == "" {
		errs = append(errs, "zigbee2mqtt.bridge_name is required")
	}
	if c.Zigbee2MQTT.DeviceTopic == "" {
		errs = append(errs, "zigbee2mqtt.device_topic is required")
	}

	// Devices validation
	if c.Devices.EvictionTTL < 0 {
		errs = append(errs, "devices.eviction_ttl must not be negative")
	}
	if c.Devices.EvictionTTL > 0 && c.Devices.SweepInterval <= 0 {
		errs = append(errs, "devices.sweep_interval must be positive when eviction_ttl is set")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - the secret is optional, but a weak one is refused
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceTopicFilter returns the device topic filter with "{base}" expanded.
func (c *Config) DeviceTopicFilter() string {
	return strings.ReplaceAll(c.Zigbee2MQTT.DeviceTopic, "{base}", c.Zigbee2MQTT.BaseTopic)
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
