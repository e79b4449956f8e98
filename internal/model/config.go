// Package model defines the data structures for tandem's configuration, wire
// messages, and run outcomes.
package model

import (
	"fmt"
	"os"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	Engine    EngineConfig    `yaml:"engine"`
	Agents    AgentsConfig    `yaml:"agents"`
	Transport TransportConfig `yaml:"transport"`
	Inbox     InboxConfig     `yaml:"inbox"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Node      NodeConfig      `yaml:"node"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type EngineConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

type AgentsConfig struct {
	Evaluator AgentConfig `yaml:"evaluator"`
	Executor  AgentConfig `yaml:"executor"`
}

type AgentConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	AllowedTools []string `yaml:"allowed_tools"`
	WorkDir      string   `yaml:"work_dir"`
}

type TransportConfig struct {
	// Mode selects the role reported by GET /health: "communication" or
	// "execution". The serving side is whichever role has ListenAddr set.
	Mode         string `yaml:"mode"`
	ListenAddr   string `yaml:"listen_addr"`
	PeerURL      string `yaml:"peer_url"`
	AuthTokenEnv string `yaml:"auth_token_env"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

type InboxConfig struct {
	Enabled           bool `yaml:"enabled"`
	RescanIntervalSec int  `yaml:"rescan_interval_sec"`
	DebounceMs        int  `yaml:"debounce_ms"`
}

type CleanupConfig struct {
	Enabled          bool `yaml:"enabled"`
	RetainSec        int  `yaml:"retain_sec"`
	SweepIntervalSec int  `yaml:"sweep_interval_sec"`
}

type NodeConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads and validates a YAML config file. Configuration errors are
// fatal by policy: callers abort startup rather than degrade.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Engine.MaxIterations <= 0 {
		c.Engine.MaxIterations = 5
	}
	if c.Transport.TimeoutSec <= 0 {
		c.Transport.TimeoutSec = 30
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = "execution"
	}
	if c.Inbox.RescanIntervalSec <= 0 {
		c.Inbox.RescanIntervalSec = 10
	}
	if c.Inbox.DebounceMs <= 0 {
		c.Inbox.DebounceMs = 200
	}
	if c.Cleanup.RetainSec <= 0 {
		c.Cleanup.RetainSec = 24 * 60 * 60
	}
	if c.Cleanup.SweepIntervalSec <= 0 {
		c.Cleanup.SweepIntervalSec = 10 * 60
	}
	if c.Node.ShutdownTimeoutSec <= 0 {
		c.Node.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Transport.Mode != "communication" && c.Transport.Mode != "execution" {
		return fmt.Errorf("config: transport.mode must be \"communication\" or \"execution\", got %q", c.Transport.Mode)
	}
	return nil
}

// TransportTimeout returns the per-request client timeout.
func (c Config) TransportTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSec) * time.Second
}

// AuthToken resolves the bearer token from the configured environment
// variable. Empty means auth is disabled.
func (c Config) AuthToken() string {
	if c.Transport.AuthTokenEnv == "" {
		return ""
	}
	return os.Getenv(c.Transport.AuthTokenEnv)
}
