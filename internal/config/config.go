package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration. Values come from an optional
// YAML file with environment variables taking precedence, so deployments can
// ship a file and still override secrets per environment.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Queue struct {
		LeaseSeconds    int `yaml:"lease_seconds"`
		MaxAttempts     int `yaml:"max_attempts"`
		MonitorInterval int `yaml:"monitor_interval_seconds"`
	} `yaml:"queue"`

	// Workers is the number of embedded execution workers. Zero means
	// execution is driven externally over the worker HTTP interface.
	Workers int `yaml:"workers"`
}

// Load reads the YAML file at path (skipped when path is empty or the file
// is absent), applies defaults, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Database.Path = "arbitrage.db"
	cfg.Auth.JWTSecret = "arbitrage-secret-key"
	cfg.Queue.LeaseSeconds = 30
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.MonitorInterval = 60
	return cfg
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Queue.LeaseSeconds <= 0 {
		return fmt.Errorf("queue lease must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue max attempts must be positive")
	}
	return nil
}

// Lease returns the task lease as a duration.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// MonitorInterval returns the queue monitor interval as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Queue.MonitorInterval) * time.Second
}

func overrideWithEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if path := os.Getenv("DATABASE_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if lease := os.Getenv("QUEUE_LEASE_SECONDS"); lease != "" {
		if n, err := strconv.Atoi(lease); err == nil {
			cfg.Queue.LeaseSeconds = n
		}
	}
	if attempts := os.Getenv("QUEUE_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.Queue.MaxAttempts = n
		}
	}
	if workers := os.Getenv("WORKER_COUNT"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n >= 0 {
			cfg.Workers = n
		}
	}
}
