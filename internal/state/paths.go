// Package state centralizes filesystem locations for aslan-browser runtime
// artifacts: the control socket, the learn-mode screenshot directory, and the
// config root used by internal/config.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime config root.
	StateDirEnv = "ASLAN_STATE_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "aslan-browser"

	// DefaultSocketPath is the Unix-socket path the transport listens on
	// unless overridden by configuration (spec §6.1).
	DefaultSocketPath = "/tmp/aslan-browser.sock"

	// LearnDirName is the subdirectory of the OS temp dir holding learn-mode
	// recording output (spec §4.7, §6.4).
	LearnDirName = "aslan-learn"

	// CLIStateFile is the path the out-of-scope CLI wrapper uses to track its
	// "current tab" across invocations (spec §6.3/§6.4). The server neither
	// reads nor writes it; the constant exists so a future client package can
	// agree on the location without duplicating it.
	CLIStateFile = "/tmp/aslan-cli.json"
)

// RootDir returns the runtime config root for aslan-browser.
// Resolution order:
//  1. ASLAN_STATE_DIR (if set)
//  2. XDG_STATE_HOME/aslan-browser (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/aslan-browser (cross-platform fallback)
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

// LearnDir returns the directory a learn recording named name writes its
// screenshots to: <temp>/aslan-learn/<name>/. The caller is responsible for
// recreating it from empty, per spec §4.7.
func LearnDir(name string) string {
	return filepath.Join(os.TempDir(), LearnDirName, name)
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
