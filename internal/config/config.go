// Package config loads server configuration from an optional YAML file with
// DOCSYNC_-prefixed environment overrides.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr         string `mapstructure:"addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 15*time.Second)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 30*time.Second)
}

func (s ServerConfig) GetIdleTimeout() time.Duration {
	return parseDuration(s.IdleTimeout, 120*time.Second)
}

type DatabaseConfig struct {
	// URL is the Postgres connection string. When Store is "memory" the
	// server runs on the in-memory stores and URL is ignored.
	URL      string `mapstructure:"url"`
	Store    string `mapstructure:"store"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type AuthConfig struct {
	HS256Secret string `mapstructure:"hs256_secret"`
	DevMode     bool   `mapstructure:"dev_mode"`
}

type SyncConfig struct {
	QueueCapacity   int `mapstructure:"queue_capacity"`
	BatchSize       int `mapstructure:"batch_size"`
	MaxRetries      int `mapstructure:"max_retries"`
	EnqueueBatchMax int `mapstructure:"enqueue_batch_max"`
}

type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
	Burst         int `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	MaxUsers int    `mapstructure:"max_users"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Load reads configuration from the given file (optional) and environment.
// Environment variables use the DOCSYNC_ prefix with underscores, e.g.
// DOCSYNC_DATABASE_URL, DOCSYNC_AUTH_HS256_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("database.store", "postgres")
	v.SetDefault("database.max_conns", 16)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("auth.hs256_secret", "dev-secret-change-in-production")
	v.SetDefault("sync.queue_capacity", 1000)
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.enqueue_batch_max", 50)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.burst", 120)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 30s")
	v.SetDefault("scheduler.max_users", 100)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetEnvPrefix("DOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
