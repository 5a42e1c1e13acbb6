// Package config loads service configuration with layered sources:
// built-in defaults, then an optional YAML file, then STATICMAP_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/osmview/go-staticmap/staticmap"
)

const envPrefix = "STATICMAP_"

// DefaultConfigPaths are searched in order when no explicit path is given.
var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/staticmap/config.yaml"}

type Config struct {
	Listen    string `koanf:"listen"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	Tiles     TilesConfig     `koanf:"tiles"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// TilesConfig configures the tile fetcher and the render failure policy.
type TilesConfig struct {
	URLTemplate string   `koanf:"url_template"`
	Shards      []string `koanf:"shards"`
	UserAgent   string   `koanf:"user_agent"`

	// FetchPermits caps concurrent outbound tile requests process-wide.
	FetchPermits int64         `koanf:"fetch_permits"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// MinSuccessRatio errors a render when fewer than this share of its
	// tiles arrive. 0 never errors, matching the degrade-to-blank default.
	MinSuccessRatio float64 `koanf:"min_success_ratio"`
}

// RateLimitConfig bounds /map.jpg requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `koanf:"requests_per_minute"`
}

// Default returns the built-in configuration, which reproduces the public
// OSM upstream constants.
func Default() *Config {
	return &Config{
		Listen:    ":8000",
		LogLevel:  "info",
		LogFormat: "json",
		Tiles: TilesConfig{
			URLTemplate:     staticmap.DefaultURLTemplate,
			Shards:          staticmap.DefaultShards,
			UserAgent:       staticmap.DefaultUserAgent,
			FetchPermits:    staticmap.DefaultFetchPermits,
			FetchTimeout:    30 * time.Second,
			MinSuccessRatio: 0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the default
// paths are probed; a file that exists but does not parse is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// STATICMAP_LISTEN -> listen, STATICMAP_TILES__FETCH_PERMITS ->
	// tiles.fetch_permits. The double underscore separates nesting levels
	// because key names themselves contain underscores.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
