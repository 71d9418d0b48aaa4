// config.go — Configuration cascade for the aslan-browserd process
// (SPEC_FULL.md §1 Ambient Stack). Grounded on LanternOps-breeze's
// agent/internal/config.Load (defaults, struct with mapstructure tags, a
// single Load(cfgFile) entry point) but backed by a private *viper.Viper
// instance instead of the teacher's package-level global, so tests can
// construct independent configs without racing each other.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/brennhill/aslan-browser/internal/state"
)

// EnvPrefix is the environment-variable namespace for overrides (spec.md
// SPEC_FULL.md §1: "environment (ASLAN_ prefix, AutomaticEnv)").
const EnvPrefix = "ASLAN"

// Config is the resolved process configuration (SPEC_FULL.md §1 key list).
type Config struct {
	SocketPath          string `mapstructure:"socket_path"`
	LearnDir            string `mapstructure:"learn_dir"`
	DefaultWidth        int    `mapstructure:"default_width"`
	DefaultHeight       int    `mapstructure:"default_height"`
	DOMStableDebounceMs int64  `mapstructure:"dom_stable_debounce_ms"`
	NetworkIdleGraceMs  int64  `mapstructure:"network_idle_grace_ms"`
	NavigationTimeoutMs int64  `mapstructure:"navigation_timeout_ms"`
	LogLevel            string `mapstructure:"log_level"`
	ChromeRemoteAddr    string `mapstructure:"chrome_remote_addr"`
}

// Default returns the configuration used when no file, env var, or flag
// overrides a key (SPEC_FULL.md §1 cascade: "defaults < config file < env
// < flags").
func Default() *Config {
	return &Config{
		SocketPath:          state.DefaultSocketPath,
		LearnDir:            "",
		DefaultWidth:        1280,
		DefaultHeight:       800,
		DOMStableDebounceMs: 500,  // spec §4.4 "debounce window (default 500 ms)"
		NetworkIdleGraceMs:  0,
		NavigationTimeoutMs: 30_000,
		LogLevel:            "info",
		ChromeRemoteAddr:    "",
	}
}

// Load resolves the configuration cascade: defaults, then
// ~/.aslan-browser/config.yaml (or cfgFile if given), then ASLAN_-prefixed
// environment variables. Flags are applied by the caller after Load returns,
// via the *cobra.Command's own flag values (spec.md's fourth cascade tier).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	cfg := Default()
	setDefaults(v, cfg)

	explicit := cfgFile != ""
	if explicit {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// An explicitly named config file must exist; the default
		// ~/.aslan-browser/config.yaml is optional (spec.md SPEC_FULL.md §1
		// cascade: "defaults < config file").
		notFound := isNotFoundErr(err)
		if explicit || !notFound {
			return nil, fmt.Errorf("config: read %s: %w", cfgFileDescription(cfgFile), err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func isNotFoundErr(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	return errors.Is(err, fs.ErrNotExist)
}

func cfgFileDescription(cfgFile string) string {
	if cfgFile != "" {
		return cfgFile
	}
	return "config.yaml"
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("learn_dir", cfg.LearnDir)
	v.SetDefault("default_width", cfg.DefaultWidth)
	v.SetDefault("default_height", cfg.DefaultHeight)
	v.SetDefault("dom_stable_debounce_ms", cfg.DOMStableDebounceMs)
	v.SetDefault("network_idle_grace_ms", cfg.NetworkIdleGraceMs)
	v.SetDefault("navigation_timeout_ms", cfg.NavigationTimeoutMs)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("chrome_remote_addr", cfg.ChromeRemoteAddr)
}

// configDir returns ~/.aslan-browser, the default config-file directory
// (SPEC_FULL.md §1: "~/.aslan-browser/config.yaml").
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aslan-browser"), nil
}
