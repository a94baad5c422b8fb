package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines client configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Cache   CacheConfig   `yaml:"cache"`
	Refresh RefreshConfig `yaml:"refresh"`
	Log     LogConfig     `yaml:"log"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type RefreshConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Parallelism int           `yaml:"parallelism"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080",
		},
		Cache: CacheConfig{
			Path: "loom.db",
		},
		Refresh: RefreshConfig{
			Interval:    30 * time.Second,
			Parallelism: 8,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("LOOM_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if u := os.Getenv("LOOM_BACKEND_URL"); u != "" {
		cfg.Backend.BaseURL = u
	}
	if key := os.Getenv("LOOM_API_KEY"); key != "" {
		cfg.Backend.APIKey = key
	}
	if path := os.Getenv("LOOM_CACHE_PATH"); path != "" {
		cfg.Cache.Path = path
	}
	if interval := os.Getenv("LOOM_REFRESH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_REFRESH_INTERVAL: %w", err)
		}
		cfg.Refresh.Interval = d
	}
	if par := os.Getenv("LOOM_REFRESH_PARALLELISM"); par != "" {
		n, err := strconv.Atoi(par)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOOM_REFRESH_PARALLELISM: %w", err)
		}
		cfg.Refresh.Parallelism = n
	}
	if level := os.Getenv("LOOM_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
