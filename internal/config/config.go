// Package config provides configuration for swhdiff runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/k13n/swhdiff/internal/pipeline"
	"github.com/k13n/swhdiff/internal/sink"
)

// Config holds run configuration. Values are layered: defaults, then an
// optional YAML file, then SWHDIFF_* environment variables, then flags.
type Config struct {
	// Workers is the number of concurrent diff workers.
	Workers int `yaml:"workers"`
	// ProgressEvery is the number of revisions between progress reports.
	ProgressEvery int64 `yaml:"progressEvery"`
	// Parents is "forward" (child -> parent edges) or "backward".
	Parents string `yaml:"parents"`
	// Excludes are doublestar patterns of paths left out of the output.
	Excludes []string `yaml:"excludes"`
	// CountInput counts input lines up front so progress has a total.
	CountInput bool `yaml:"countInput"`
	// Preload reads the whole input before the workers start.
	Preload bool `yaml:"preload"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workers:       1,
		ProgressEvery: 1000,
		Parents:       "forward",
		CountInput:    true,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// FromEnv creates a Config from defaults and environment variables.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Workers = getEnvInt("SWHDIFF_WORKERS", c.Workers)
	c.ProgressEvery = getEnvInt64("SWHDIFF_PROGRESS_EVERY", c.ProgressEvery)
	c.Parents = getEnv("SWHDIFF_PARENTS", c.Parents)
	c.CountInput = getEnvBool("SWHDIFF_COUNT_INPUT", c.CountInput)
	c.Preload = getEnvBool("SWHDIFF_PRELOAD", c.Preload)
	c.LogLevel = getEnv("SWHDIFF_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("SWHDIFF_LOG_FORMAT", c.LogFormat)
	if val := os.Getenv("SWHDIFF_EXCLUDES"); val != "" {
		c.Excludes = nil
		for _, p := range strings.Split(val, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Excludes = append(c.Excludes, p)
			}
		}
	}
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ProgressEvery < 1 {
		return fmt.Errorf("progressEvery must be at least 1, got %d", c.ProgressEvery)
	}
	if _, err := pipeline.ParseDirection(c.Parents); err != nil {
		return err
	}
	for _, p := range c.Excludes {
		if err := sink.ValidatePattern(p); err != nil {
			return err
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// Pipeline returns the pipeline settings of c.
func (c *Config) Pipeline() (pipeline.Config, error) {
	dir, err := pipeline.ParseDirection(c.Parents)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Workers:       c.Workers,
		ProgressEvery: c.ProgressEvery,
		Parents:       dir,
	}, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
