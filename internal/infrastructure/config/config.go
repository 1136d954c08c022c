package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the relay board core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Relays    RelaysConfig    `yaml:"relays"`
	Board     BoardConfig     `yaml:"board"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// StaticDir is the directory served at "/" for the web UI.
	// Empty means the embedded placeholder UI.
	StaticDir string `yaml:"static_dir"`

	// LongPollTimeout bounds how long GET /data waits for a change.
	LongPollTimeout time.Duration `yaml:"long_poll_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
// Write must exceed the long-poll timeout or held requests are cut short.
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
	Enabled        bool `yaml:"enabled"`
	MaxMessageSize int  `yaml:"max_message_size"`
	PingInterval   int  `yaml:"ping_interval"`
	PongTimeout    int  `yaml:"pong_timeout"`
}

// RelaysConfig contains settings for the relay table and its mutation policy.
type RelaysConfig struct {
	// StateFile is the JSON document holding the relay table.
	StateFile string `yaml:"state_file"`

	// DefaultCount is the number of relays created when StateFile is absent.
	DefaultCount int `yaml:"default_count"`

	// Debounce is the minimum time between accepted mutations of one relay.
	Debounce time.Duration `yaml:"debounce"`

	// SyncPersist makes POST /data wait for the table to reach disk so that
	// write failures can be reported. The table lock is never held while waiting.
	SyncPersist bool `yaml:"sync_persist"`
}

// BoardConfig contains relay board discovery and transport settings.
type BoardConfig struct {
	// Subnet is the /24 network swept during discovery, e.g. "10.8.32.0/24".
	Subnet string `yaml:"subnet"`

	// Address pins the board address and skips discovery when set.
	Address string `yaml:"address"`

	// DeviceTag is the device value accepted by POST /register.
	DeviceTag string `yaml:"device_tag"`

	// HTTPPort is the port boards serve their control endpoints on.
	HTTPPort int `yaml:"http_port"`

	ProbePath    string        `yaml:"probe_path"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	PushTimeout  time.Duration `yaml:"push_timeout"`

	Discovery BoardDiscoveryConfig `yaml:"discovery"`
	Panels    PanelScanConfig      `yaml:"panels"`

	// ReconcileDelay is the wait between the two panel snapshots taken after
	// a relay is switched on.
	ReconcileDelay time.Duration `yaml:"reconcile_delay"`
}

// BoardDiscoveryConfig controls the startup subnet sweep.
type BoardDiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retry keeps sweeping with backoff instead of failing startup when no
	// board answers. The API is served in "board offline" state meanwhile.
	Retry          bool          `yaml:"retry"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PanelScanConfig controls the UDP broadcast used to enumerate panels.
type PanelScanConfig struct {
	BroadcastPort int           `yaml:"broadcast_port"`
	LocalPort     int           `yaml:"local_port"`
	Message       string        `yaml:"message"`
	ListenWindow  time.Duration `yaml:"listen_window"`
	ReadSlice     time.Duration `yaml:"read_slice"`
}

// DatabaseConfig contains SQLite settings for the relay state history.
type DatabaseConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Path                 string `yaml:"path"`
	WALMode              bool   `yaml:"wal_mode"`
	BusyTimeout          int    `yaml:"busy_timeout"`
	HistoryRetentionDays int    `yaml:"history_retention_days"`
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

// MDNSConfig controls advertisement of the API on the local network.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Sizes are in megabytes and ages in days.
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
//  2. YAML file values (override defaults); a missing file keeps the defaults
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYBOARD_SECTION_KEY
// For example: RELAYBOARD_BOARD_SUBNET, RELAYBOARD_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Relay Board",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 3000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 75,
				Idle:  120,
			},
			StaticDir:       "public",
			LongPollTimeout: 60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Relays: RelaysConfig{
			StateFile:    "data.json",
			DefaultCount: 10,
			Debounce:     2 * time.Second,
			SyncPersist:  true,
		},
		Board: BoardConfig{
			Subnet:       "10.8.32.0/24",
			DeviceTag:    "relayBoard",
			HTTPPort:     80,
			ProbePath:    "/esp",
			ProbeTimeout: time.Second,
			PushTimeout:  5 * time.Second,
			Discovery: BoardDiscoveryConfig{
				Enabled:        true,
				Retry:          true,
				InitialBackoff: 5 * time.Second,
				MaxBackoff:     2 * time.Minute,
			},
			Panels: PanelScanConfig{
				BroadcastPort: 991,
				LocalPort:     999,
				Message:       "WhereAreYou.01",
				ListenWindow:  3 * time.Second,
				ReadSlice:     500 * time.Millisecond,
			},
			ReconcileDelay: 45 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:              false,
			Path:                 "./data/relayboard.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relayboard-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		MDNS: MDNSConfig{
			Instance: "relayboard",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/relayboard.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYBOARD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("RELAYBOARD_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RELAYBOARD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Relays
	if v := os.Getenv("RELAYBOARD_RELAYS_STATE_FILE"); v != "" {
		cfg.Relays.StateFile = v
	}

	// Board
	if v := os.Getenv("RELAYBOARD_BOARD_SUBNET"); v != "" {
		cfg.Board.Subnet = v
	}
	if v := os.Getenv("RELAYBOARD_BOARD_ADDRESS"); v != "" {
		cfg.Board.Address = v
	}

	// Database
	if v := os.Getenv("RELAYBOARD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RELAYBOARD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYBOARD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYBOARD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("RELAYBOARD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.LongPollTimeout <= 0 {
		errs = append(errs, "api.long_poll_timeout must be positive")
	}

	if c.Relays.StateFile == "" {
		errs = append(errs, "relays.state_file is required")
	}
	if c.Relays.DefaultCount < 1 || c.Relays.DefaultCount > 16 {
		errs = append(errs, "relays.default_count must be between 1 and 16")
	}
	if c.Relays.Debounce < 0 {
		errs = append(errs, "relays.debounce must not be negative")
	}

	if _, err := c.Board.Prefix(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Board.Address != "" {
		if addr, err := netip.ParseAddr(c.Board.Address); err != nil || !addr.Is4() {
			errs = append(errs, "board.address must be an IPv4 address")
		}
	}
	if c.Board.DeviceTag == "" {
		errs = append(errs, "board.device_tag is required")
	}
	if c.Board.HTTPPort < 1 || c.Board.HTTPPort > 65535 {
		errs = append(errs, "board.http_port must be between 1 and 65535")
	}
	if c.Board.ProbeTimeout <= 0 || c.Board.PushTimeout <= 0 {
		errs = append(errs, "board.probe_timeout and board.push_timeout must be positive")
	}
	if c.Board.Panels.ReadSlice <= 0 || c.Board.Panels.ListenWindow < c.Board.Panels.ReadSlice {
		errs = append(errs, "board.panels.listen_window must be at least board.panels.read_slice")
	}
	if c.Board.Panels.BroadcastPort < 1 || c.Board.Panels.BroadcastPort > 65535 {
		errs = append(errs, "board.panels.broadcast_port must be between 1 and 65535")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Prefix parses Subnet and checks it is an IPv4 /24.
func (b BoardConfig) Prefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(b.Subnet)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("board.subnet %q is not a CIDR prefix", b.Subnet)
	}
	if !prefix.Addr().Is4() || prefix.Bits() != 24 {
		return netip.Prefix{}, fmt.Errorf("board.subnet %q must be an IPv4 /24", b.Subnet)
	}
	return prefix.Masked(), nil
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
