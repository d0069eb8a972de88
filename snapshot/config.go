package snapshot

import (
	"log/slog"

	"github.com/hazyhaar/snapwipe/browser"
	"github.com/hazyhaar/snapwipe/snapshot/internal/config"
)

// Config is the snapshot service configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig selects how the shared browser is obtained.
type BrowserConfig = config.BrowserConfig

// RenderConfig controls one screenshot batch.
type RenderConfig = config.RenderConfig

// MetricsConfig points at the metrics database.
type MetricsConfig = config.MetricsConfig

// LoadConfigFile reads a YAML configuration file. An empty path yields
// the defaults.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *Config {
	return config.Default()
}

// NewBrowserManager builds the shared browser manager from cfg.
func NewBrowserManager(cfg BrowserConfig, logger *slog.Logger) *browser.Manager {
	return browser.NewManager(browser.Config{
		RemoteURL:        cfg.Remote,
		ExecutablePath:   cfg.Executable,
		Local:            cfg.Local,
		ProbePaths:       cfg.ProbePaths,
		BundleDir:        cfg.BundleDir,
		DisableBundle:    cfg.DisableBundle,
		LaunchTimeout:    cfg.LaunchTimeout,
		ResourceBlocking: cfg.ResourceBlocking,
		Stealth:          cfg.Stealth,
		Logger:           logger,
	})
}
