package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the getter methods.
//
// Example (~/.shepherd-console/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8099
// orchestrator:
//   base_url: http://127.0.0.1:8000
//   timeout_seconds: 15
// usage:
//   warning_percent: 70
//   critical_percent: 90
//   refresh_interval_seconds: 30
// compaction:
//   history_capacity: 20
// export:
//   max_workers: 2
//   job_timeout_seconds: 30
//   output_dir: ""            # defaults to <config dir>/exports
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Warning/critical percentages are deliberately configuration, not constants.

type AppConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Usage        UsageConfig        `yaml:"usage"`
	Compaction   CompactionConfig   `yaml:"compaction"`
	Export       ExportConfig       `yaml:"export"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type OrchestratorConfig struct {
	BaseURL        *string `yaml:"base_url"`
	TimeoutSeconds *int    `yaml:"timeout_seconds"`
}

type UsageConfig struct {
	WarningPercent         *float64 `yaml:"warning_percent"`
	CriticalPercent        *float64 `yaml:"critical_percent"`
	RefreshIntervalSeconds *int     `yaml:"refresh_interval_seconds"`
}

type CompactionConfig struct {
	HistoryCapacity *int `yaml:"history_capacity"`
}

type ExportConfig struct {
	MaxWorkers        *int    `yaml:"max_workers"`
	JobTimeoutSeconds *int    `yaml:"job_timeout_seconds"`
	OutputDir         *string `yaml:"output_dir"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8099

	DefaultOrchestratorURL     = "http://127.0.0.1:8000"
	DefaultOrchestratorTimeout = 15 * time.Second

	DefaultWarningPercent  = 70.0
	DefaultCriticalPercent = 90.0
	DefaultRefreshInterval = 30 * time.Second

	DefaultHistoryCapacity = 20

	DefaultExportWorkers    = 2
	DefaultExportJobTimeout = 30 * time.Second
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".shepherd-console")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.shepherd-console/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	if cfg.WarningPercent() <= 0 || cfg.CriticalPercent() <= 0 {
		return nil, "", fmt.Errorf("usage thresholds must be positive in %s", configFile)
	}
	if cfg.WarningPercent() > cfg.CriticalPercent() {
		return nil, "", fmt.Errorf("usage.warning_percent %.0f exceeds usage.critical_percent %.0f in %s",
			cfg.WarningPercent(), cfg.CriticalPercent(), configFile)
	}
	if cfg.HistoryCapacity() < 1 {
		return nil, "", fmt.Errorf("invalid compaction.history_capacity in %s", configFile)
	}

	return cfg, configFile, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:       ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Orchestrator: OrchestratorConfig{BaseURL: ptr(DefaultOrchestratorURL)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) OrchestratorURL() string {
	if c == nil || c.Orchestrator.BaseURL == nil {
		return DefaultOrchestratorURL
	}
	v := strings.TrimSpace(*c.Orchestrator.BaseURL)
	if v == "" {
		return DefaultOrchestratorURL
	}
	return strings.TrimSuffix(v, "/")
}

func (c *AppConfig) OrchestratorTimeout() time.Duration {
	if c == nil || c.Orchestrator.TimeoutSeconds == nil || *c.Orchestrator.TimeoutSeconds <= 0 {
		return DefaultOrchestratorTimeout
	}
	return time.Duration(*c.Orchestrator.TimeoutSeconds) * time.Second
}

func (c *AppConfig) WarningPercent() float64 {
	if c == nil || c.Usage.WarningPercent == nil {
		return DefaultWarningPercent
	}
	return *c.Usage.WarningPercent
}

func (c *AppConfig) CriticalPercent() float64 {
	if c == nil || c.Usage.CriticalPercent == nil {
		return DefaultCriticalPercent
	}
	return *c.Usage.CriticalPercent
}

// RefreshInterval returns the auto-refresh period for the current
// conversation's token usage. Zero disables the refresher.
func (c *AppConfig) RefreshInterval() time.Duration {
	if c == nil || c.Usage.RefreshIntervalSeconds == nil {
		return DefaultRefreshInterval
	}
	if *c.Usage.RefreshIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(*c.Usage.RefreshIntervalSeconds) * time.Second
}

func (c *AppConfig) HistoryCapacity() int {
	if c == nil || c.Compaction.HistoryCapacity == nil {
		return DefaultHistoryCapacity
	}
	return *c.Compaction.HistoryCapacity
}

func (c *AppConfig) ExportWorkers() int {
	if c == nil || c.Export.MaxWorkers == nil || *c.Export.MaxWorkers <= 0 {
		return DefaultExportWorkers
	}
	return *c.Export.MaxWorkers
}

func (c *AppConfig) ExportJobTimeout() time.Duration {
	if c == nil || c.Export.JobTimeoutSeconds == nil || *c.Export.JobTimeoutSeconds <= 0 {
		return DefaultExportJobTimeout
	}
	return time.Duration(*c.Export.JobTimeoutSeconds) * time.Second
}

// ExportOutputDir returns the directory export artifacts are written to.
func (c *AppConfig) ExportOutputDir() string {
	if c != nil && c.Export.OutputDir != nil && strings.TrimSpace(*c.Export.OutputDir) != "" {
		return *c.Export.OutputDir
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "exports"
	}
	return filepath.Join(configDir, "exports")
}

func ptr[T any](v T) *T { return &v }
