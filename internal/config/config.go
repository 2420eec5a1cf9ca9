// Package config loads service configuration from an optional YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/infrastructure/db"
	"github.com/sawpanic/spxsignals/internal/infrastructure/providers"
)

const DefaultPath = "config/spxsignals.yaml"

type Config struct {
	Cache     CacheSection     `yaml:"cache"`
	Database  db.Config        `yaml:"database"`
	Providers ProvidersSection `yaml:"providers"`
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingSection   `yaml:"logging"`
}

type CacheSection struct {
	Redis cache.RedisConfig `yaml:"redis"`
}

type ProvidersSection struct {
	Massive providers.AggregatesConfig `yaml:"massive"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LoggingSection struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Cache: CacheSection{Redis: cache.RedisConfig{
			OpTimeout:   500 * time.Millisecond,
			DialTimeout: 2 * time.Second,
		}},
		Database:  db.DefaultConfig(),
		Providers: ProvidersSection{Massive: providers.DefaultAggregatesConfig()},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		Logging: LoggingSection{Level: "info"},
	}
}

// Load reads path when it exists, applies environment overrides, then fills any
// remaining zero values with defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Cache.Redis.Password = pw
	}
	if dbIdx := os.Getenv("REDIS_DB"); dbIdx != "" {
		if val, err := strconv.Atoi(dbIdx); err == nil {
			c.Cache.Redis.DB = val
		}
	}

	c.Database.ApplyEnvOverrides()

	if key := os.Getenv("MASSIVE_API_KEY"); key != "" {
		c.Providers.Massive.APIKey = key
	}
	if base := os.Getenv("MASSIVE_BASE_URL"); base != "" {
		c.Providers.Massive.BaseURL = base
	}

	if port := os.Getenv("HTTP_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			c.Server.Port = val
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Cache.Redis.OpTimeout == 0 {
		c.Cache.Redis.OpTimeout = def.Cache.Redis.OpTimeout
	}
	if c.Cache.Redis.DialTimeout == 0 {
		c.Cache.Redis.DialTimeout = def.Cache.Redis.DialTimeout
	}

	c.Database.ApplyDefaults()

	m := &c.Providers.Massive
	if m.BaseURL == "" {
		m.BaseURL = def.Providers.Massive.BaseURL
	}
	if m.RPS == 0 {
		m.RPS = def.Providers.Massive.RPS
	}
	if m.Burst == 0 {
		m.Burst = def.Providers.Massive.Burst
	}
	if m.Timeout == 0 {
		m.Timeout = def.Providers.Massive.Timeout
	}

	s := &c.Server
	if s.Host == "" {
		s.Host = def.Server.Host
	}
	if s.Port == 0 {
		s.Port = def.Server.Port
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = def.Server.ReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = def.Server.WriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = def.Server.IdleTimeout
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = def.Server.RequestTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Cache.Redis.DB < 0 {
		return fmt.Errorf("cache.redis.db cannot be negative")
	}

	if c.Providers.Massive.RPS < 0 {
		return fmt.Errorf("providers.massive.rps cannot be negative")
	}
	if !strings.HasPrefix(c.Providers.Massive.BaseURL, "http://") && !strings.HasPrefix(c.Providers.Massive.BaseURL, "https://") {
		return fmt.Errorf("providers.massive.base_url must be an http(s) URL")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	if _, err := c.LogLevel(); err != nil {
		return err
	}

	return nil
}

// LogLevel parses logging.level
func (c *Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	return level, nil
}
