package config

import "time"

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Strategy StrategyConfig `mapstructure:"strategy" yaml:"strategy"`
	Search   SearchConfig   `mapstructure:"search" yaml:"search"`
	CORS     CORSConfig     `mapstructure:"cors" yaml:"cors"`
	RCA      RCAConfig      `mapstructure:"rca" yaml:"rca"`
}

// DatabaseConfig configures the Postgres durable store. When URL is empty the
// service runs on the in-memory store (dev/test mode); jobs then do not
// survive restarts.
type DatabaseConfig struct {
	URL             string `mapstructure:"url" yaml:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
	PingTimeout     int    `mapstructure:"ping_timeout" yaml:"ping_timeout"`           // seconds
}

// CacheConfig configures the Valkey instance backing progress pub/sub, the
// latest-status snapshots and the work queue.
type CacheConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Password string `mapstructure:"password" yaml:"password"`
	TTL      int    `mapstructure:"ttl" yaml:"ttl"` // seconds
}

// QueueConfig controls the worker pool consuming the RCA job queue.
type QueueConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Workers     int    `mapstructure:"workers" yaml:"workers"`
	PollTimeout int    `mapstructure:"poll_timeout" yaml:"poll_timeout"` // seconds
}

// StreamConfig controls the progress streaming gateway.
type StreamConfig struct {
	KeepAliveSeconds int `mapstructure:"keep_alive_seconds" yaml:"keep_alive_seconds"`
}

// StrategyConfig points at an optional YAML file overriding the built-in
// hypothesis/action templates.
type StrategyConfig struct {
	TemplatesPath string `mapstructure:"templates_path" yaml:"templates_path"`
}

// SearchConfig configures the bleve report index.
type SearchConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	DataPath string `mapstructure:"data_path" yaml:"data_path"`
}

// CORSConfig handles Cross-Origin Resource Sharing for the dashboard UI.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age" yaml:"max_age"`
}

// RCAConfig tunes job-creation behavior.
type RCAConfig struct {
	// ReuseWindowMinutes: a queued/running job for the same run created within
	// this window is returned instead of enqueueing a duplicate.
	ReuseWindowMinutes int `mapstructure:"reuse_window_minutes" yaml:"reuse_window_minutes"`
}

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollTimeout) * time.Second
}

func (c StreamConfig) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

func (c RCAConfig) ReuseWindow() time.Duration {
	return time.Duration(c.ReuseWindowMinutes) * time.Minute
}
