// logging.go — Process-wide structured logger construction.
// Grounded on LanternOps-breeze's agent, the one pack repo that wires a real
// structured logger rather than plain fmt.Fprintf: every collector and
// executor takes a *zap.Logger constructor argument instead of reaching for a
// package-level global (apps/agent/internal/collector/collector.go). This
// repository follows the same shape: New() is called once at process
// bootstrap and the *zap.Logger is threaded through the registry, tabs,
// transport, and learn recorder explicitly.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. level is one of "debug", "info", "warn",
// "error"; an unrecognized level falls back to "info".
func New(level string) (*zap.Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, nil
	}
	return l, nil
}

// Nop returns a logger that discards everything, for use in tests that don't
// care about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
