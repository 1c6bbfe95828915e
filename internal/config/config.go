package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// reservedPaths are served by the HTTP API itself
var reservedPaths = map[string]bool{
	"/":              true,
	"/api/data":      true,
	"/api/hist_data": true,
	"/healthz":       true,
}

// Config represents the complete application configuration
type Config struct {
	Refresh     RefreshConfig     `mapstructure:"refresh"`
	Source      SourceConfig      `mapstructure:"source"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Server      ServerConfig      `mapstructure:"server"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// RefreshConfig holds the collection cadence
type RefreshConfig struct {
	Period     time.Duration `mapstructure:"period"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// SourceConfig selects and configures the reading source
type SourceConfig struct {
	Kind      string          `mapstructure:"kind"` // "simulator" or "opcua"
	Simulator SimulatorConfig `mapstructure:"simulator"`
	OPCUA     OPCUAConfig     `mapstructure:"opcua"`
}

// SimulatorConfig holds simulated hardware settings
type SimulatorConfig struct {
	Motors int    `mapstructure:"motors"`
	Seed   uint64 `mapstructure:"seed"` // 0 seeds from the clock
}

// OPCUAConfig holds the OPC UA session and node mapping
type OPCUAConfig struct {
	Endpoint       string             `mapstructure:"endpoint"`
	SecurityMode   string             `mapstructure:"security_mode"`
	SecurityPolicy string             `mapstructure:"security_policy"`
	Username       string             `mapstructure:"username"`
	Password       string             `mapstructure:"password"`
	Timeout        time.Duration      `mapstructure:"timeout"`
	Motors         []MotorNodesConfig `mapstructure:"motors"`
	Pallet         PalletNodesConfig  `mapstructure:"pallet"`
	Centroid       CentroidNodeConfig `mapstructure:"centroid"`
}

// MotorNodesConfig maps one motor to its OPC UA nodes
type MotorNodesConfig struct {
	ID              int    `mapstructure:"id"`
	VelocityNode    string `mapstructure:"velocity_node"`
	DistanceNode    string `mapstructure:"distance_node"`
	TemperatureNode string `mapstructure:"temperature_node"`
}

// PalletNodesConfig maps the pallet reader. An empty IDNode disables pallets.
type PalletNodesConfig struct {
	IDNode string `mapstructure:"id_node"`
}

// CentroidNodeConfig maps the gyroscope centroid axes
type CentroidNodeConfig struct {
	XNode string `mapstructure:"x_node"`
	YNode string `mapstructure:"y_node"`
	ZNode string `mapstructure:"z_node"`
}

// PersistenceConfig holds the on-disk mirror settings
type PersistenceConfig struct {
	Enabled         bool         `mapstructure:"enabled"`
	CurrentPath     string       `mapstructure:"current_path"`
	HistoryPath     string       `mapstructure:"history_path"`
	FilePermissions os.FileMode  `mapstructure:"file_permissions"`
	DirPermissions  os.FileMode  `mapstructure:"dir_permissions"`
	SQLite          SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig holds the optional history archive
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig holds the HTTP query surface settings
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TelegramConfig holds Telegram alert configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// ROBOTD_PERSISTENCE_ENABLED overrides persistence.enabled, etc.
	v.SetEnvPrefix("ROBOTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Refresh defaults
	v.SetDefault("refresh.period", "2s")
	v.SetDefault("refresh.run_on_start", true)

	// Source defaults
	v.SetDefault("source.kind", "simulator")
	v.SetDefault("source.simulator.motors", 3)
	v.SetDefault("source.simulator.seed", 0)
	v.SetDefault("source.opcua.security_mode", "None")
	v.SetDefault("source.opcua.security_policy", "None")
	v.SetDefault("source.opcua.timeout", "5s")

	// Persistence defaults
	v.SetDefault("persistence.enabled", true)
	v.SetDefault("persistence.current_path", "./data/robot_data.json")
	v.SetDefault("persistence.history_path", "./data/hist_data.json")
	v.SetDefault("persistence.file_permissions", 0o644)
	v.SetDefault("persistence.dir_permissions", 0o755)
	v.SetDefault("persistence.sqlite.enabled", false)
	v.SetDefault("persistence.sqlite.path", "./data/history.db")

	// Server defaults
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Refresh config
	if c.Refresh.Period < 100*time.Millisecond {
		return fmt.Errorf("refresh.period must be at least 100ms")
	}

	// Validate Source config
	switch c.Source.Kind {
	case "simulator":
		if c.Source.Simulator.Motors < 0 {
			return fmt.Errorf("source.simulator.motors must not be negative")
		}
	case "opcua":
		if err := c.Source.OPCUA.validate(); err != nil {
			return fmt.Errorf("source.opcua: %w", err)
		}
	default:
		return fmt.Errorf("source.kind must be one of: simulator, opcua")
	}

	// Validate Persistence config
	if c.Persistence.Enabled {
		if c.Persistence.CurrentPath == "" {
			return fmt.Errorf("persistence.current_path is required when persistence is enabled")
		}
		if c.Persistence.HistoryPath == "" {
			return fmt.Errorf("persistence.history_path is required when persistence is enabled")
		}
		if c.Persistence.CurrentPath == c.Persistence.HistoryPath {
			return fmt.Errorf("persistence.current_path and persistence.history_path must differ")
		}
		if c.Persistence.SQLite.Enabled && c.Persistence.SQLite.Path == "" {
			return fmt.Errorf("persistence.sqlite.path is required when sqlite is enabled")
		}
	}

	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	// Validate Metrics config
	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with /")
		}
		if strings.ContainsAny(c.Metrics.Path, "{} \t") {
			return fmt.Errorf("metrics.path must be a plain path, got %q", c.Metrics.Path)
		}
		if reservedPaths[c.Metrics.Path] {
			return fmt.Errorf("metrics.path %q conflicts with a built-in route", c.Metrics.Path)
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (o *OPCUAConfig) validate() error {
	if o.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if len(o.Motors) == 0 && o.Pallet.IDNode == "" && o.Centroid.XNode == "" {
		return fmt.Errorf("at least one node must be configured")
	}
	seen := make(map[int]bool, len(o.Motors))
	for _, m := range o.Motors {
		if seen[m.ID] {
			return fmt.Errorf("duplicate motor id %d", m.ID)
		}
		seen[m.ID] = true
		if m.VelocityNode == "" || m.DistanceNode == "" || m.TemperatureNode == "" {
			return fmt.Errorf("motor %d needs velocity_node, distance_node and temperature_node", m.ID)
		}
	}
	c := o.Centroid
	if (c.XNode != "" || c.YNode != "" || c.ZNode != "") && (c.XNode == "" || c.YNode == "" || c.ZNode == "") {
		return fmt.Errorf("centroid needs all of x_node, y_node, z_node")
	}
	return nil
}
