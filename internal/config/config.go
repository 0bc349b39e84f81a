package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the engine settings the CLI exposes. All fields have
// working defaults; a yaml file only overrides what it names.
type Config struct {
	// PageSizeOptions are the recognized page sizes offered for selection.
	PageSizeOptions []int `yaml:"pageSizeOptions"`
	// DefaultPageSize is used when no size was chosen yet.
	DefaultPageSize int `yaml:"defaultPageSize"`
	// CacheCapacity bounds the page cache (distinct page windows).
	CacheCapacity int `yaml:"cacheCapacity"`
	// Workers bounds concurrent fetches.
	Workers int `yaml:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PageSizeOptions: []int{10, 25, 50, 100},
		DefaultPageSize: 50,
		CacheCapacity:   64,
		Workers:         4,
	}
}

// Load reads a yaml config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot honor.
func (c *Config) Validate() error {
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("defaultPageSize must be >= 1, got %d", c.DefaultPageSize)
	}
	for _, s := range c.PageSizeOptions {
		if s < 1 {
			return fmt.Errorf("page size option must be >= 1, got %d", s)
		}
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cacheCapacity must be >= 1, got %d", c.CacheCapacity)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	return nil
}

// AllowsPageSize reports whether size is one of the configured options or a
// custom positive size.
func (c *Config) AllowsPageSize(size int) bool {
	return size >= 1
}
