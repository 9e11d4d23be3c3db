// Package config loads engine settings from file, environment, and
// defaults, in that order of increasing precedence for env overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every tunable the engine and its surfaces read.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Artifact ArtifactConfig `mapstructure:"artifact"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig tunes the recursive solver.
type EngineConfig struct {
	MaxDepth      int    `mapstructure:"max_depth"`
	Concurrency   int64  `mapstructure:"concurrency"`
	RetryBudget   int    `mapstructure:"retry_budget"`
	InjectionMode string `mapstructure:"injection_mode"` // none|dependencies|full|subtask
	TokenBudget   int    `mapstructure:"token_budget"`
	FSRoot        string `mapstructure:"fs_root"`
}

// ArtifactConfig tunes the artifact builder.
type ArtifactConfig struct {
	PreviewBytes int `mapstructure:"preview_bytes"`
}

// ServerConfig tunes the artifact HTTP surface.
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsEnabled bool     `mapstructure:"metrics_enabled"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_depth", 3)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.retry_budget", 2)
	v.SetDefault("engine.injection_mode", "dependencies")
	v.SetDefault("engine.token_budget", 0)
	v.SetDefault("artifact.preview_bytes", 2048)
	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path (optional) plus ROMA_* environment
// variables, falling back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Engine.MaxDepth < 1 {
		return fmt.Errorf("engine.max_depth must be >= 1, got %d", c.Engine.MaxDepth)
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be >= 1, got %d", c.Engine.Concurrency)
	}
	if c.Engine.RetryBudget < 0 {
		return fmt.Errorf("engine.retry_budget must be >= 0, got %d", c.Engine.RetryBudget)
	}
	switch c.Engine.InjectionMode {
	case "none", "dependencies", "full", "subtask":
	default:
		return fmt.Errorf("engine.injection_mode must be one of none|dependencies|full|subtask, got %q", c.Engine.InjectionMode)
	}
	if c.Artifact.PreviewBytes < 0 {
		return fmt.Errorf("artifact.preview_bytes must be >= 0, got %d", c.Artifact.PreviewBytes)
	}
	return nil
}
