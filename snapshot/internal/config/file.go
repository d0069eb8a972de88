// Package config handles snapshot service configuration from a YAML file
// and environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level snapshot service configuration.
type Config struct {
	Listen   string        `yaml:"listen"`
	LogLevel string        `yaml:"log_level"`
	Browser  BrowserConfig `yaml:"browser"`
	Render   RenderConfig  `yaml:"render"`
	Metrics  MetricsConfig `yaml:"metrics"`
	MCP      MCPConfig     `yaml:"mcp"`
}

// BrowserConfig selects how the shared browser is obtained.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Executable       string        `yaml:"executable"`
	Local            bool          `yaml:"local"`
	ProbePaths       []string      `yaml:"probe_paths"`
	BundleDir        string        `yaml:"bundle_dir"`
	DisableBundle    bool          `yaml:"disable_bundle"`
	LaunchTimeout    time.Duration `yaml:"launch_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          bool          `yaml:"stealth"`
}

// RenderConfig controls one screenshot batch.
type RenderConfig struct {
	Settle        time.Duration `yaml:"settle"`
	MaxTasks      int           `yaml:"max_tasks"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	TaskTimeout   time.Duration `yaml:"task_timeout"`
	Sanitize      bool          `yaml:"sanitize"`
	GuardBaseHref bool          `yaml:"guard_base_href"`
}

// MetricsConfig points at the SQLite database holding metrics, batch
// records and rate-limit rules. An empty DB keeps them in memory.
type MetricsConfig struct {
	DB            string `yaml:"db"`
	RetentionDays int    `yaml:"retention_days"`
}

// MCPConfig enables the MCP tool surface on stdio.
type MCPConfig struct {
	Stdio bool `yaml:"stdio"`
}

// LoadFile reads a YAML configuration file. An empty path yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":3000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.LaunchTimeout <= 0 {
		c.Browser.LaunchTimeout = 60 * time.Second
	}
	if c.Render.Settle <= 0 {
		c.Render.Settle = 300 * time.Millisecond
	}
	if c.Render.MaxTasks <= 0 {
		c.Render.MaxTasks = 8
	}
	if c.Render.MaxBodyBytes <= 0 {
		c.Render.MaxBodyBytes = 16 << 20
	}
	if c.Render.TaskTimeout <= 0 {
		c.Render.TaskTimeout = 30 * time.Second
	}
	if c.Metrics.RetentionDays <= 0 {
		c.Metrics.RetentionDays = 14
	}
}

// ApplyEnv overrides fields from environment variables read through
// getenv. Malformed values are reported, not ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BROWSER_WS_ENDPOINT"); v != "" {
		c.Browser.Remote = v
	}
	if v := getenv("CHROME_EXECUTABLE_PATH"); v != "" {
		c.Browser.Executable = v
	}
	if v := getenv("SNAPSHOT_LOCAL"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("config: SNAPSHOT_LOCAL: %w", err)
		}
		c.Browser.Local = b
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: PORT: invalid port %q", v)
		}
		c.Listen = ":" + v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv("METRICS_DB"); v != "" {
		c.Metrics.DB = v
	}
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}
