package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "SEALEDCHAT"

type Config struct {
	Addr     string         `mapstructure:"addr"`
	Database DatabaseConfig `mapstructure:"database"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RealtimeConfig struct {
	// Backend is one of memory, redis or nats.
	Backend string `mapstructure:"backend"`
	Buffer  int    `mapstructure:"buffer"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	CookieSecret string `mapstructure:"cookie_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides apply to
// all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "sealedchat.db")
	v.SetDefault("realtime.backend", "memory")
	v.SetDefault("realtime.buffer", 64)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("auth.cookie_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, the optional YAML file at
// path and SEALEDCHAT_* environment variables, in increasing priority.
// Flags bound to v before Load take priority over all of them.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite3", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite3, postgres, pgx", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Realtime.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required for the redis backend"))
		}
	case "nats":
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("realtime.backend %q is not one of memory, redis, nats", c.Realtime.Backend))
	}
	if c.Realtime.Buffer <= 0 {
		errs = append(errs, errors.New("realtime.buffer must be positive"))
	}
	if len(c.Auth.CookieSecret) < 16 {
		errs = append(errs, errors.New("auth.cookie_secret must be at least 16 bytes (see `sealedchat keygen`)"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
