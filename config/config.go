package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Stockwatch StockwatchConfig `yaml:"stockwatch"`
	Feed       FeedConfig       `yaml:"feed"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Database   DatabaseConfig   `yaml:"database"`
	Notify     NotifyConfig     `yaml:"notify"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type StockwatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL                  string   `yaml:"url"`
	ReconnectDelay       Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
	SubscribeGrace       Duration `yaml:"subscribe_grace"`
	WriteTimeout         Duration `yaml:"write_timeout"`
}

type MonitorConfig struct {
	Interval Duration `yaml:"interval"`
	UserID   string   `yaml:"user_id"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type NotifyConfig struct {
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	BurstSize         int      `yaml:"burst_size"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type MetricsConfig struct {
	CloudWatchEnabled bool   `yaml:"cloudwatch_enabled"`
	Region            string `yaml:"region"`
	Namespace         string `yaml:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Duration parses human readable values such as "5s" or "5m" from YAML.
// Plain integers are interpreted as nanoseconds for compatibility with
// serialized time.Duration values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case int:
		*d = Duration(time.Duration(v))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std converts the configuration duration to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			ReconnectDelay:       Duration(5 * time.Second),
			MaxReconnectAttempts: 5,
			SubscribeGrace:       Duration(2 * time.Second),
			WriteTimeout:         Duration(10 * time.Second),
		},
		Monitor: MonitorConfig{
			Interval: Duration(5 * time.Minute),
		},
		Notify: NotifyConfig{
			Timeout:           Duration(10 * time.Second),
			RequestsPerSecond: 5,
			BurstSize:         10,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override settings from environment variables if available
	if v := os.Getenv("FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		config.Database.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_USER"); v != "" {
		config.Database.User = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		config.Database.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		config.Database.Name = strings.TrimSpace(v)
	}
	if config.Metrics.CloudWatchEnabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Stockwatch.Name == "" {
		return fmt.Errorf("stockwatch.name is required")
	}

	if cfg.Stockwatch.Version == "" {
		return fmt.Errorf("stockwatch.version is required")
	}

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	if !strings.HasPrefix(cfg.Feed.URL, "ws://") && !strings.HasPrefix(cfg.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must use the ws:// or wss:// scheme")
	}

	if cfg.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed.reconnect_delay must be greater than 0")
	}

	if cfg.Feed.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("feed.max_reconnect_attempts must be greater than 0")
	}

	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be greater than 0")
	}

	if cfg.Monitor.UserID == "" {
		return fmt.Errorf("monitor.user_id is required")
	}

	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}

	if cfg.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}

	if cfg.Server.Enabled && cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required when the server is enabled")
	}

	if env := AppEnvironment(); IsProductionLike(env) {
		if cfg.Database.Password == "" {
			return fmt.Errorf("database.password is required in the %s environment", env)
		}
		if cfg.Database.SSLMode == "" || cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("database.ssl_mode must not be disabled in the %s environment", env)
		}
	}

	return nil
}
