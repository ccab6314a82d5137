package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration with priority order:
// 1. Environment variables (AGENTOPS_*)
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/agentops/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AGENTOPS")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: env vars and defaults only.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 1800)
	v.SetDefault("database.ping_timeout", 2)

	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 86400)

	v.SetDefault("queue.name", "rca:jobs")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.poll_timeout", 5)

	v.SetDefault("stream.keep_alive_seconds", 15)

	v.SetDefault("strategy.templates_path", "")

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.data_path", "./data/search")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization"})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 3600)

	v.SetDefault("rca.reuse_window_minutes", 10)
}

func validateConfig(c *Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name must not be empty")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.PollTimeout <= 0 {
		return fmt.Errorf("queue.poll_timeout must be positive, got %d", c.Queue.PollTimeout)
	}
	if c.Stream.KeepAliveSeconds <= 0 {
		return fmt.Errorf("stream.keep_alive_seconds must be positive, got %d", c.Stream.KeepAliveSeconds)
	}
	if c.RCA.ReuseWindowMinutes < 0 {
		return fmt.Errorf("rca.reuse_window_minutes must not be negative, got %d", c.RCA.ReuseWindowMinutes)
	}
	if c.Search.Enabled && c.Search.DataPath == "" {
		return fmt.Errorf("search.data_path required when search is enabled")
	}
	return nil
}
