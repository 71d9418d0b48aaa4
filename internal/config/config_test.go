// config_test.go — Tests for the configuration cascade.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultHasSaneValues(t *testing.T) {
	cfg := Default()
	if cfg.SocketPath == "" {
		t.Error("Default().SocketPath is empty")
	}
	if cfg.DOMStableDebounceMs != 500 {
		t.Errorf("DOMStableDebounceMs = %d, want 500 (spec §4.4 default debounce)", cfg.DOMStableDebounceMs)
	}
	if cfg.NavigationTimeoutMs <= 0 {
		t.Error("NavigationTimeoutMs must be positive")
	}
}

func TestLoadWithNoFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadReadsExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aslan.yaml")
	contents := "socket_path: /tmp/custom.sock\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q, want %q", cfg.SocketPath, "/tmp/custom.sock")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	// Keys the file didn't set still carry defaults.
	if cfg.DefaultWidth != 1280 {
		t.Errorf("DefaultWidth = %d, want default 1280", cfg.DefaultWidth)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aslan.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("ASLAN_LOG_LEVEL", "error")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want %q (env should win over file)", cfg.LogLevel, "error")
	}
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Error("Load() with a missing explicit file expected error, got nil")
	}
}
