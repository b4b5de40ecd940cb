package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr     string            `yaml:"addr"`
	Postgres PostgresConfig    `yaml:"postgres"`
	Provider ProviderConfig    `yaml:"provider"`
	Matching MatchingConfig    `yaml:"matchmaking"`
	Rating   RatingConfig      `yaml:"rating"`
	Tokens   map[string]string `yaml:"tokens"` // token -> participant id, dev use only
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ProviderConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type MatchingConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	RatingBand   int           `yaml:"rating_band"`
}

type RatingConfig struct {
	K int `yaml:"k"`
}

func Default() *Config {
	return &Config{
		Addr:     ":8080",
		Provider: ProviderConfig{Timeout: 5 * time.Second},
		Matching: MatchingConfig{TickInterval: 2 * time.Second, RatingBand: 200},
		Rating:   RatingConfig{K: 32},
	}
}

// Load reads a yaml config file and applies env overrides on top. A missing
// file is not an error; defaults plus env are enough to run locally.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		cfg.Provider.Timeout = d
	}

	return cfg, nil
}
