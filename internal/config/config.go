// Package config handles configuration loading and validation for the
// research backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/toolserver"
)

// Config is the root configuration.
type Config struct {
	Daemon      DaemonConfig              `yaml:"daemon"`
	ToolServers []toolserver.ServerConfig `yaml:"tool_servers"`
	Stages      StagesConfig              `yaml:"stages"`
	Polling     PollingConfig             `yaml:"polling"`
}

// DaemonConfig defines smartd settings.
type DaemonConfig struct {
	Listen    string        `yaml:"listen"`
	Database  string        `yaml:"database"`
	LogFile   string        `yaml:"log_file"`
	LogLevel  string        `yaml:"log_level"`
	SentryDSN string        `yaml:"sentry_dsn"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// MetricsConfig defines the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StagesConfig maps the pipeline stages onto tool servers.
type StagesConfig struct {
	// ResearchServer names the tool server used by the research and
	// legal resolution stages.
	ResearchServer string `yaml:"research_server"`
	// DataServer names the tool server used by data extraction.
	DataServer string `yaml:"data_server"`
	// Concurrency caps per-company parallelism within a stage.
	Concurrency int `yaml:"concurrency"`
}

// PollingConfig tunes the CLI's status polling.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	Grace    time.Duration `yaml:"grace"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Daemon: DaemonConfig{
			Listen:   "127.0.0.1:8571",
			Database: filepath.Join(homeDir, ".local/share/smart-insurance/smart.db"),
			LogFile:  filepath.Join(homeDir, ".local/share/smart-insurance/smartd.log"),
			LogLevel: "info",
			Metrics:  MetricsConfig{Enabled: true},
		},
		ToolServers: []toolserver.ServerConfig{
			{
				Name:    "research",
				Command: "smart-research-server",
				Env:     map[string]string{"FIRECRAWL_API_KEY": "${FIRECRAWL_API_KEY}"},
			},
			{
				Name:    "data",
				Command: "smart-data-server",
			},
		},
		Stages: StagesConfig{
			ResearchServer: "research",
			DataServer:     "data",
			Concurrency:    3,
		},
		Polling: PollingConfig{
			Interval: 2 * time.Second,
			Grace:    10 * time.Second,
		},
	}
}

// Load reads configuration from the default path, falling back to defaults
// when no file exists.
func Load() (*Config, error) {
	configPath := DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("SMART_INSURANCE_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/smart-insurance/config.yaml")
}

// Validate checks cross-field consistency: every stage must point at a
// configured tool server.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.ToolServers))
	for _, ts := range c.ToolServers {
		if ts.Name == "" {
			return fmt.Errorf("tool server with command %q has no name", ts.Command)
		}
		if ts.Command == "" {
			return fmt.Errorf("tool server %q has no command", ts.Name)
		}
		if names[ts.Name] {
			return fmt.Errorf("duplicate tool server name %q", ts.Name)
		}
		names[ts.Name] = true
	}
	if !names[c.Stages.ResearchServer] {
		return fmt.Errorf("stages.research_server %q is not a configured tool server", c.Stages.ResearchServer)
	}
	if !names[c.Stages.DataServer] {
		return fmt.Errorf("stages.data_server %q is not a configured tool server", c.Stages.DataServer)
	}
	return nil
}

func (c *Config) expandEnvVars() {
	c.Daemon.SentryDSN = os.ExpandEnv(c.Daemon.SentryDSN)
	for i := range c.ToolServers {
		for k, v := range c.ToolServers[i].Env {
			c.ToolServers[i].Env[k] = os.ExpandEnv(v)
		}
	}
}
