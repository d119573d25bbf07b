package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultInterval     = 5 * time.Minute
	DefaultMaxItems     = 300
	DefaultLimit        = 100
	DefaultFetchTimeout = 15 * time.Second
)

// TomlSource represents one feed source from TOML
type TomlSource struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	IntervalMinutes     int          `toml:"interval_minutes"`
	MaxItems            int          `toml:"max_items"`
	DefaultLimit        int          `toml:"default_limit"`
	FetchTimeoutSeconds int          `toml:"fetch_timeout_seconds"`
	Sources             []TomlSource `toml:"sources"`
}

// Config is the resolved runtime configuration. Zero values in the TOML file
// fall back to the package defaults.
type Config struct {
	Interval     time.Duration
	MaxItems     int
	DefaultLimit int
	FetchTimeout time.Duration
	Sources      []TomlSource
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var raw TomlConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return resolve(&raw)
}

func resolve(raw *TomlConfig) (*Config, error) {
	cfg := &Config{
		Interval:     DefaultInterval,
		MaxItems:     DefaultMaxItems,
		DefaultLimit: DefaultLimit,
		FetchTimeout: DefaultFetchTimeout,
		Sources:      raw.Sources,
	}

	if raw.IntervalMinutes > 0 {
		cfg.Interval = time.Duration(raw.IntervalMinutes) * time.Minute
	}
	if raw.MaxItems > 0 {
		cfg.MaxItems = raw.MaxItems
	}
	if raw.DefaultLimit > 0 {
		cfg.DefaultLimit = raw.DefaultLimit
	}
	if raw.FetchTimeoutSeconds > 0 {
		cfg.FetchTimeout = time.Duration(raw.FetchTimeoutSeconds) * time.Second
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.Name == "" {
			return nil, fmt.Errorf("source with url %q is missing a name", src.URL)
		}
		if src.URL == "" {
			return nil, fmt.Errorf("source %q is missing a url", src.Name)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}

	return cfg, nil
}
