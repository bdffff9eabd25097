package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AGPM_TEST_VAR", "hello")
	os.Unsetenv("AGPM_TEST_UNSET")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "${AGPM_TEST_VAR}/config", "hello/config"},
		{"unset empty", "${AGPM_TEST_UNSET}", ""},
		{"unset default", "${AGPM_TEST_UNSET:-fallback}", "fallback"},
		{"no vars", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.in); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadGlobalDefaultsWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.DefaultTool != "claude-code" {
		t.Errorf("DefaultTool = %q, want claude-code", cfg.DefaultTool)
	}
}

func TestLoadGlobalReadsFile(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)

	dir := filepath.Join(configHome, "agpm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "log_level: debug\ndefault_tool: opencode\nmax_parallel: 4\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal() error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DefaultTool != "opencode" {
		t.Errorf("DefaultTool = %q, want opencode", cfg.DefaultTool)
	}
	if cfg.MaxParallel != 4 {
		t.Errorf("MaxParallel = %d, want 4", cfg.MaxParallel)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "verbose"}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject an unknown log level")
	}
}

func TestValidateRejectsNegativeMaxParallel(t *testing.T) {
	cfg := &Config{MaxParallel: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a negative max_parallel")
	}
}

func TestResolveCacheDirPrecedence(t *testing.T) {
	t.Run("env var wins", func(t *testing.T) {
		t.Setenv("AGPM_CACHE_DIR", "/env/cache")
		cfg := &Config{CacheDir: "/config/cache"}
		if got := cfg.ResolveCacheDir(); got != "/env/cache" {
			t.Errorf("ResolveCacheDir() = %q, want /env/cache", got)
		}
	})

	t.Run("config value used without env var", func(t *testing.T) {
		os.Unsetenv("AGPM_CACHE_DIR")
		cfg := &Config{CacheDir: "/config/cache"}
		if got := cfg.ResolveCacheDir(); got != "/config/cache" {
			t.Errorf("ResolveCacheDir() = %q, want /config/cache", got)
		}
	})

	t.Run("xdg fallback", func(t *testing.T) {
		os.Unsetenv("AGPM_CACHE_DIR")
		t.Setenv("XDG_CACHE_HOME", t.TempDir())
		cfg := &Config{}
		got := cfg.ResolveCacheDir()
		if filepath.Base(got) != "cache" {
			t.Errorf("ResolveCacheDir() = %q, want suffix .../cache", got)
		}
	})
}
