/*
Package config loads server configuration.

PRECEDENCE (lowest to highest):
  1. Defaults()
  2. YAML file (strict: unknown keys are an error)
  3. .env file via godotenv (never overrides variables already set)
  4. ROOMBOOK_* environment variables
  5. Command-line flags, applied by cmd/server

SEE ALSO:
  - env.go:        Environment variable names
  - cmd/server:    Flag overrides
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Timezone  string          `yaml:"timezone"`
	Auth      AuthConfig      `yaml:"auth"`
	Lock      LockConfig      `yaml:"lock"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	SeedFile  string          `yaml:"seed_file"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver  string        `yaml:"driver"` // memory | sqlite | mysql
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"` // bound on each admission
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type LockConfig struct {
	Backend string      `yaml:"backend"` // local | redis
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type NotifyConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Log       bool          `yaml:"log"`
	Mail      MailConfig    `yaml:"mail"`
	AMQP      AMQPConfig    `yaml:"amqp"`
}

// MailConfig enables the SMTP sink when Host is set.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// AMQPConfig enables the broker sink when URL is set.
type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// RateLimitConfig bounds write requests per client IP. Requests <= 0 disables it.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DSN:     "./data/roombook.db",
			Timeout: 5 * time.Second,
		},
		Timezone: "Local",
		Auth: AuthConfig{
			Issuer:   "roombook",
			TokenTTL: 12 * time.Hour,
		},
		Lock: LockConfig{
			Backend: "local",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "roombook:lock:", TTL: 10 * time.Second},
		},
		Notify: NotifyConfig{
			QueueSize: 256,
			Timeout:   10 * time.Second,
			Log:       true,
			Mail:      MailConfig{Port: 587, FromName: "Meeting Room"},
		},
		Log:       LogConfig{Level: "info", Format: "json"},
		RateLimit: RateLimitConfig{Requests: 60, Window: time.Minute},
	}
}

// Load applies file, .env and environment over the defaults, then validates.
// Empty paths are skipped; a missing .env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	// #nosec G304 -- configuration file paths are provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn: required for driver %s", c.Store.Driver)
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("lock.backend: unknown backend %q", c.Lock.Backend)
	}
	if c.Auth.Secret == "" {
		return errors.New("auth.secret: required (set ROOMBOOK_JWT_SECRET)")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store.timeout: must be positive")
	}
	return nil
}

// Location resolves Timezone. "Local" and "" mean the process zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
