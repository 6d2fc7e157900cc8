// Package config provides configuration management for Routa.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/routa/routa/internal/provider/acp"
)

// Config holds all configuration sections for Routa.
type Config struct {
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	MCP          MCPConfig          `mapstructure:"mcp"`
	NATS         NATSConfig         `mapstructure:"nats"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`

	// PresetsPath points to the YAML catalog of agent launch presets.
	PresetsPath string `mapstructure:"presetsPath"`
}

// WorkspaceConfig identifies the workspace agents operate on.
type WorkspaceConfig struct {
	ID   string `mapstructure:"id"`
	Root string `mapstructure:"root"`
}

// OrchestratorConfig tunes the execution flow.
type OrchestratorConfig struct {
	MaxWaves         int  `mapstructure:"maxWaves"`
	ParallelCrafters bool `mapstructure:"parallelCrafters"`
	TurnTimeout      int  `mapstructure:"turnTimeout"`  // in seconds
	SpawnTimeout     int  `mapstructure:"spawnTimeout"` // in seconds
}

// TurnTimeoutDuration returns the turn timeout as a time.Duration.
func (o *OrchestratorConfig) TurnTimeoutDuration() time.Duration {
	return time.Duration(o.TurnTimeout) * time.Second
}

// SpawnTimeoutDuration returns the spawn timeout as a time.Duration.
func (o *OrchestratorConfig) SpawnTimeoutDuration() time.Duration {
	return time.Duration(o.SpawnTimeout) * time.Second
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// NATSConfig holds NATS messaging configuration. An empty URL means events
// stay on the in-memory bus only.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LLMConfig holds the Anthropic API backend configuration.
type LLMConfig struct {
	APIKey     string `mapstructure:"apiKey"`
	SmartModel string `mapstructure:"smartModel"`
	FastModel  string `mapstructure:"fastModel"`
	MaxTokens  int    `mapstructure:"maxTokens"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TelemetryConfig holds OpenTelemetry export configuration. An empty
// endpoint disables tracing.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("ROUTA_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Workspace defaults
	v.SetDefault("workspace.id", "default")
	v.SetDefault("workspace.root", ".")

	// Orchestrator defaults
	v.SetDefault("orchestrator.maxWaves", 3)
	v.SetDefault("orchestrator.parallelCrafters", false)
	v.SetDefault("orchestrator.turnTimeout", 600)
	v.SetDefault("orchestrator.spawnTimeout", 30)

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)

	// NATS defaults - empty URL means in-memory bus only
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// LLM defaults
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.smartModel", "claude-sonnet-4-5")
	v.SetDefault("llm.fastModel", "claude-haiku-4-5")
	v.SetDefault("llm.maxTokens", 8192)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Telemetry defaults - disabled unless an endpoint is set
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.serviceName", "routa")

	v.SetDefault("presetsPath", "")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ROUTA_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/routa/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ROUTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("llm.apiKey", "ANTHROPIC_API_KEY", "ROUTA_LLM_API_KEY")
	_ = v.BindEnv("orchestrator.maxWaves", "ROUTA_ORCHESTRATOR_MAX_WAVES")
	_ = v.BindEnv("orchestrator.parallelCrafters", "ROUTA_ORCHESTRATOR_PARALLEL_CRAFTERS")
	_ = v.BindEnv("mcp.port", "ROUTA_MCP_PORT")
	_ = v.BindEnv("presetsPath", "ROUTA_PRESETS_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/routa/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Workspace.ID == "" {
		errs = append(errs, "workspace.id is required")
	}
	if cfg.Workspace.Root == "" {
		errs = append(errs, "workspace.root is required")
	}

	if cfg.Orchestrator.MaxWaves <= 0 {
		errs = append(errs, "orchestrator.maxWaves must be positive")
	}
	if cfg.Orchestrator.TurnTimeout <= 0 {
		errs = append(errs, "orchestrator.turnTimeout must be positive")
	}
	if cfg.Orchestrator.SpawnTimeout <= 0 {
		errs = append(errs, "orchestrator.spawnTimeout must be positive")
	}

	if cfg.MCP.Enabled && (cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// presetCatalog is the YAML shape of the agent preset file.
type presetCatalog struct {
	Presets []acp.Preset `yaml:"presets"`
}

// LoadPresets reads the agent launch preset catalog. A missing path returns
// an empty catalog.
func LoadPresets(path string) ([]acp.Preset, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	var catalog presetCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}
	for i, p := range catalog.Presets {
		if p.ID == "" {
			return nil, fmt.Errorf("preset %d is missing an id", i)
		}
		if p.Command == "" {
			return nil, fmt.Errorf("preset %q is missing a command", p.ID)
		}
	}
	return catalog.Presets, nil
}
