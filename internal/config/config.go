// Package config holds webforge configuration, loaded from
// ~/.webforge/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all webforge configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Preview supervisor settings
	Preview PreviewConfig `yaml:"preview"`

	// Auto-fix loop settings
	Fixloop FixloopConfig `yaml:"fixloop"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model transport.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // openai, gemini
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"` // openai-compatible endpoint, e.g. a local LM Studio
	Timeout  time.Duration `yaml:"timeout"`  // hard wall clock around each request
}

// PreviewConfig configures the dev-server supervisor.
type PreviewConfig struct {
	PortBase        int           `yaml:"port_base"`         // first port to probe
	PortProbeCount  int           `yaml:"port_probe_count"`  // sequential ports tried before ephemeral fallback
	ReadyInterval   time.Duration `yaml:"ready_interval"`    // readiness poll interval
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`     // readiness deadline
	KillGracePeriod time.Duration `yaml:"kill_grace_period"` // SIGTERM to SIGKILL window
	LogRingCapacity int           `yaml:"log_ring_capacity"` // captured child log lines
	AutoInstallDeps bool          `yaml:"auto_install_deps"` // install before first start
	InstallTimeout  time.Duration `yaml:"install_timeout"`   // per install command
	Host            string        `yaml:"host"`              // bind/probe host
}

// FixloopConfig configures the bounded retry contract of the orchestration
// loop. These bounds are hard: the loop never retries past them.
type FixloopConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`         // auto-fix cycles per problem
	RequireChangeTries int `yaml:"require_change_tries"` // corrective re-prompts when no edits came back
	LogTailLines       int `yaml:"log_tail_lines"`       // log lines fed back into diagnostic prompts
}

// LoggingConfig configures the category logger.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  5 * time.Minute,
		},
		Preview: PreviewConfig{
			PortBase:        3000,
			PortProbeCount:  20,
			ReadyInterval:   500 * time.Millisecond,
			ReadyTimeout:    60 * time.Second,
			KillGracePeriod: 3 * time.Second,
			LogRingCapacity: 1000,
			AutoInstallDeps: true,
			InstallTimeout:  5 * time.Minute,
			Host:            "127.0.0.1",
		},
		Fixloop: FixloopConfig{
			MaxAttempts:        3,
			RequireChangeTries: 2,
			LogTailLines:       30,
		},
	}
}

// Path returns the config file location.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".webforge", "config.yaml"), nil
}

// Load reads the config file, falling back to defaults when it does not
// exist. Environment overrides are applied last.
func Load() (Config, error) {
	cfg := Default()

	path, err := Path()
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the config file, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers environment variables over the loaded config.
// Only the secrets and the endpoint are overridable; retry bounds are not.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEBFORGE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("WEBFORGE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("WEBFORGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("WEBFORGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
}
