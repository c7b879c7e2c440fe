package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for ampmatter-core.
// It maps directly to the structure of config.yaml.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	SignalK   SignalKConfig   `yaml:"signalk"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains the broker connection shared by every MQTT feed.
// Each feed opens its own session with a unique client ID.
type MQTTConfig struct {
	// URL is the broker address, e.g. mqtt://192.168.1.10:1883 or ws://venus.local:9001.
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// QoS is used for subscriptions (0, 1, or 2).
	QoS int `yaml:"qos"`

	// ClientIDPrefix prefixes generated client IDs ("ampmatter" by default).
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// SignalKConfig contains the SignalK stream settings.
type SignalKConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// FeedsConfig enables and configures the MQTT feeds.
type FeedsConfig struct {
	Sensors FeedConfig    `yaml:"sensors"`
	Relays  RelaysConfig  `yaml:"relays"`
	Victron VictronConfig `yaml:"victron"`
	Weather FeedConfig    `yaml:"weather"`
	GPS     GPSConfig     `yaml:"gps"`
}

// FeedConfig is the common switch for feeds without extra settings.
type FeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RelaysConfig configures the relay control feed.
type RelaysConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Relays      []RelayConfig `yaml:"relays"`
}

// RelayConfig describes one relay channel.
type RelayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// VictronConfig configures the inverter/charger mode control feed.
type VictronConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
	Instance    int    `yaml:"instance"`
}

// GPSConfig configures the network GPS feed.
type GPSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
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
}

// WebSocketConfig contains dashboard WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains the SQLite connection journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds the connection journal; 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains time-series telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// Load reads configuration from a YAML file and applies environment overrides.
//
// Order of precedence (highest first):
//  1. Environment variables (AMPMATTER_*)
//  2. YAML file
//  3. Built-in defaults
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
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

// defaultConfig mirrors a stock Venus OS install with a local SignalK server.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			URL:            "mqtt://localhost:1883",
			QoS:            0,
			ClientIDPrefix: "ampmatter",
		},
		SignalK: SignalKConfig{
			Enabled: true,
			URL:     "ws://localhost:3000/signalk/v1/stream?subscribe=self",
		},
		Feeds: FeedsConfig{
			Sensors: FeedConfig{Enabled: true},
			Relays: RelaysConfig{
				Enabled:     true,
				TopicPrefix: "boat/relays",
			},
			Victron: VictronConfig{
				Enabled:     true,
				TopicPrefix: "W/venus",
				Instance:    276,
			},
			Weather: FeedConfig{Enabled: true},
			GPS: GPSConfig{
				Enabled:     true,
				TopicPrefix: "gps",
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
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/ampmatter.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
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
	}
}

// applyEnvOverrides applies AMPMATTER_* environment variables.
// Secrets should come from the environment rather than config.yaml.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("AMPMATTER_MQTT_URL"); v != "" {
		cfg.MQTT.URL = v
	}
	if v := os.Getenv("AMPMATTER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("AMPMATTER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// SignalK
	if v := os.Getenv("AMPMATTER_SIGNALK_URL"); v != "" {
		cfg.SignalK.URL = v
	}

	// API
	if v := os.Getenv("AMPMATTER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Storage
	if v := os.Getenv("AMPMATTER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AMPMATTER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Broker and SignalK addresses are only checked for presence. A malformed
// address surfaces as a connection error and is retried like any other.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.URL == "" {
		errs = append(errs, "mqtt.url is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.SignalK.Enabled && c.SignalK.URL == "" {
		errs = append(errs, "signalk.url is required when signalk is enabled")
	}

	if c.Feeds.Relays.Enabled && c.Feeds.Relays.TopicPrefix == "" {
		errs = append(errs, "feeds.relays.topic_prefix is required")
	}
	seen := make(map[string]bool)
	for i, r := range c.Feeds.Relays.Relays {
		switch {
		case r.ID == "":
			errs = append(errs, fmt.Sprintf("feeds.relays.relays[%d].id is required", i))
		case strings.ContainsAny(r.ID, "/+#"):
			errs = append(errs, fmt.Sprintf("feeds.relays.relays[%d].id must not contain MQTT separators or wildcards", i))
		case seen[r.ID]:
			errs = append(errs, fmt.Sprintf("feeds.relays.relays[%d].id %q is duplicated", i, r.ID))
		}
		seen[r.ID] = true
	}
	if c.Feeds.Victron.Enabled && c.Feeds.Victron.TopicPrefix == "" {
		errs = append(errs, "feeds.victron.topic_prefix is required")
	}
	if c.Feeds.GPS.Enabled && c.Feeds.GPS.TopicPrefix == "" {
		errs = append(errs, "feeds.gps.topic_prefix is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.InfluxDB.Enabled {
		if _, err := url.ParseRequestURI(c.InfluxDB.URL); err != nil {
			errs = append(errs, "influxdb.url must be a valid URL")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
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
