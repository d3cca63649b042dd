package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`

	// Built-in integration configuration
	SysMon struct {
		Enabled  bool   `mapstructure:"enabled"`
		Name     string `mapstructure:"name"`
		Interval string `mapstructure:"interval"`
	} `mapstructure:"sysmon"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type AuthConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	TokenExpiry int    `mapstructure:"token_expiry"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocketConfig struct {
	PingInterval int `mapstructure:"ping_interval"`
	PongTimeout  int `mapstructure:"pong_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// CoordinatorConfig contains defaults applied to every update coordinator
// unless the owning integration overrides them
type CoordinatorConfig struct {
	DefaultInterval   string `mapstructure:"default_interval"`
	FetchTimeout      string `mapstructure:"fetch_timeout"`
	FailureThreshold  int    `mapstructure:"failure_threshold"`
	SetupRetryCeiling int    `mapstructure:"setup_retry_ceiling"`
}

// DiscoveryConfig controls mDNS discovery of devices on the local network
type DiscoveryConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ServiceTypes []string `mapstructure:"service_types"`
	Announce     bool     `mapstructure:"announce"`
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/lumen")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LUMEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults + env carry the day
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3101)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "development")

	viper.SetDefault("database.path", "./data/lumen.db")
	viper.SetDefault("database.migrations_path", "./migrations")
	viper.SetDefault("database.max_connections", 25)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.token_expiry", 3600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("websocket.ping_interval", 30)
	viper.SetDefault("websocket.pong_timeout", 60)
	viper.SetDefault("websocket.write_timeout", 10)

	viper.SetDefault("coordinator.default_interval", "30s")
	viper.SetDefault("coordinator.fetch_timeout", "10s")
	viper.SetDefault("coordinator.failure_threshold", 3)
	viper.SetDefault("coordinator.setup_retry_ceiling", 10)

	viper.SetDefault("discovery.enabled", false)
	viper.SetDefault("discovery.service_types", []string{"_http._tcp"})
	viper.SetDefault("discovery.announce", true)

	viper.SetDefault("sysmon.enabled", true)
	viper.SetDefault("sysmon.name", "System Monitor")
	viper.SetDefault("sysmon.interval", "15s")
}

// DefaultIntervalDuration returns the parsed default coordinator interval
func (c CoordinatorConfig) DefaultIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.DefaultInterval); err == nil {
		return d
	}
	return 30 * time.Second
}

// FetchTimeoutDuration returns the parsed per-fetch timeout
func (c CoordinatorConfig) FetchTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.FetchTimeout); err == nil {
		return d
	}
	return 10 * time.Second
}
