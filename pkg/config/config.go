// Package config loads the user-level AGPM configuration file.
//
// This is distinct from the per-project manifest (agpm.toml, see
// pkg/agpmmanifest): it holds cross-project defaults such as the cache
// root override and the default log level, read from
// ~/.config/agpm/agpm.yaml (XDG) via spf13/viper, with environment
// variable expansion in the Docker Compose style applied to the raw
// file before viper ever sees it.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// DefaultConfigFileName is the name of the config file (without leading dot for XDG)
const DefaultConfigFileName = "agpm.yaml"

// envVarPattern matches Docker Compose-style environment variable syntax.
// Matches ${VAR} or ${VAR:-default} with whitelisted variable names.
// Variable names must start with a letter or underscore and contain only
// alphanumeric characters or underscores.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnvVars expands environment variables in a string using Docker Compose-style syntax.
//
// Supported syntax:
//   - ${VAR}          - Expands to the value of VAR, or empty string if unset
//   - ${VAR:-default} - Expands to the value of VAR, or "default" if unset/empty
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		value := os.Getenv(varName)

		if value == "" && len(submatches) >= 4 {
			return submatches[3]
		}

		return value
	})
}

// Config represents the user-level AGPM configuration
type Config struct {
	// CacheDir overrides the default cache root (~/.agpm/cache). The
	// AGPM_CACHE_DIR environment variable takes precedence over this field.
	CacheDir string `yaml:"cache_dir,omitempty" mapstructure:"cache_dir"`

	// LogLevel is the minimum slog level for operation logs: debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty" mapstructure:"log_level"`

	// MaxParallel overrides the installer's default concurrency (max(10, 2*cores)).
	MaxParallel int `yaml:"max_parallel,omitempty" mapstructure:"max_parallel"`

	// DefaultTool is the tool used for entries that omit an explicit `tool` field.
	DefaultTool string `yaml:"default_tool,omitempty" mapstructure:"default_tool"`
}

// GetConfigPath returns the path to the config file in the XDG config directory.
func GetConfigPath() (string, error) {
	configDir := filepath.Join(xdg.ConfigHome, "agpm")
	return filepath.Join(configDir, DefaultConfigFileName), nil
}

// LoadGlobal loads the user-level configuration from the XDG config directory.
// If no config file exists, returns a default, valid configuration.
func LoadGlobal() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return &Config{
			LogLevel:    "info",
			DefaultTool: "claude-code",
		}, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(expanded))); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	v.SetEnvPrefix("AGPM")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DefaultTool == "" {
		cfg.DefaultTool = "claude-code"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.CacheDir != "" {
		if !filepath.IsAbs(c.CacheDir) {
			abs, err := filepath.Abs(c.CacheDir)
			if err != nil {
				return fmt.Errorf("cache_dir: cannot convert to absolute path: %w", err)
			}
			c.CacheDir = abs
		}
		c.CacheDir = filepath.Clean(c.CacheDir)
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: invalid value %q (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel: must be non-negative, got %d", c.MaxParallel)
	}

	return nil
}

// ResolveCacheDir determines the cache root by the precedence documented in
// spec.md §6: AGPM_CACHE_DIR env var, then Config.CacheDir, then the platform
// default (~/.agpm/cache on Unix, %LOCALAPPDATA%\agpm\cache on Windows).
func (c *Config) ResolveCacheDir() string {
	if envDir := os.Getenv("AGPM_CACHE_DIR"); envDir != "" {
		return envDir
	}
	if c != nil && c.CacheDir != "" {
		return c.CacheDir
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(xdg.CacheHome, "agpm", "cache")
	}
	return filepath.Join(xdg.Home, ".agpm", "cache")
}
