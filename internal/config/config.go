// Package config handles configuration loading for strawboss. It
// supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the per-repository override file, found by
// walking up from the working directory.
const ProjectConfigName = ".strawboss.yaml"

// Config holds all configuration for strawboss.
type Config struct {
	// StateDir is where plan, progress, and run-state documents live.
	StateDir string `mapstructure:"state_dir"`
	// MaxAgents caps concurrent dispatches during a run.
	MaxAgents int `mapstructure:"max_agents"`
	// PollInterval is the idle wait between run scheduling passes.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// DispatchTimeout bounds a single agent dispatch. Zero disables it.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// SpawnStagger spaces out parallel dispatch starts.
	SpawnStagger time.Duration `mapstructure:"spawn_stagger"`
	// CrossProcessLock serializes document writes across processes
	// with advisory file locks.
	CrossProcessLock bool `mapstructure:"cross_process_lock"`

	Agent   AgentConfig   `mapstructure:"agent"`
	API     APIConfig     `mapstructure:"api"`
	History HistoryConfig `mapstructure:"history"`
}

// AgentConfig selects how tasks are dispatched.
type AgentConfig struct {
	// Mode is "command" (spawn a CLI agent) or "api" (call Anthropic directly).
	Mode string `mapstructure:"mode"`
	// Command is the agent binary for command mode.
	Command string `mapstructure:"command"`
	// AllowedTools restricts what the spawned agent may use.
	AllowedTools []string `mapstructure:"allowed_tools"`
}

// APIConfig holds Anthropic API settings for api mode.
type APIConfig struct {
	Model         string `mapstructure:"model"`
	APIKey        string `mapstructure:"api_key"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// HistoryConfig controls the run-history database.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (STRAWBOSS_* or ANTHROPIC_API_KEY)
// 2. Project config (.strawboss.yaml in current directory or a parent)
// 3. User config (~/.config/strawboss/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.API.APIKey = os.ExpandEnv(cfg.API.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, skipping the
// user and project search paths.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.API.APIKey = os.ExpandEnv(cfg.API.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if
// one exists in the working directory or a parent.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", ".strawboss")
	v.SetDefault("max_agents", 3)
	v.SetDefault("poll_interval", "250ms")
	v.SetDefault("dispatch_timeout", "15m")
	v.SetDefault("spawn_stagger", "500ms")
	v.SetDefault("cross_process_lock", false)

	v.SetDefault("agent.mode", "command")
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.allowed_tools", []string{})

	v.SetDefault("api.model", "")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.use_aws_bedrock", false)
	v.SetDefault("api.aws_region", "")
	v.SetDefault("api.aws_profile", "")

	v.SetDefault("history.enabled", true)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("STRAWBOSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The bare Anthropic variable works as a fallback so api mode runs
	// without any strawboss-specific environment.
	v.BindEnv("api.api_key", "STRAWBOSS_API_API_KEY", "ANTHROPIC_API_KEY")
}

// getUserConfigDir returns the XDG config directory for strawboss.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "strawboss")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "strawboss")
	}
	return filepath.Join(home, ".config", "strawboss")
}

// findProjectConfig searches for .strawboss.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with built-in default values.
func Default() *Config {
	return &Config{
		StateDir:        ".strawboss",
		MaxAgents:       3,
		PollInterval:    250 * time.Millisecond,
		DispatchTimeout: 15 * time.Minute,
		SpawnStagger:    500 * time.Millisecond,
		Agent: AgentConfig{
			Mode:         "command",
			Command:      "claude",
			AllowedTools: []string{},
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}
