// Package logging builds the per-subsystem zap loggers used throughout
// SMFS, generalizing the teacher's logger/main.go (a single
// NewLogger(service string) factory writing per-service JSON files via
// zapcore.NewCore) into a shared factory whose level is driven by
// configuration instead of hardcoded to InfoLevel.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by configuration, matching §6's log_level enum.
const (
	LevelTrace = "TRACE"
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

func zapLevel(level string) zapcore.Level {
	switch level {
	case LevelTrace, LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Factory builds *zap.SugaredLogger instances scoped to a subsystem
// name, all sharing one base zap.Logger configured from Level.
type Factory struct {
	base *zap.Logger
}

// NewFactory builds a Factory. development selects the console encoder
// (human-readable, for local runs); production uses the JSON encoder,
// matching the teacher's file-based JSON logger.
func NewFactory(level string, development bool) (*Factory, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel(level))

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Factory{base: base}, nil
}

// For returns a sugared logger tagged with the given subsystem name
// (e.g. "catalog", "fsops", "stream", "refresh", "shutdown", "cachedir").
func (f *Factory) For(subsystem string) *zap.SugaredLogger {
	return f.base.Sugar().With("subsystem", subsystem)
}

// Sync flushes any buffered log entries.
func (f *Factory) Sync() error {
	return f.base.Sync()
}
