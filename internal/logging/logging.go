// Package logging builds the runner/daemon process logger: structured,
// leveled, field-carrying logs independent of the per-task event stream
// TaskEventBus publishes. Startup, lock acquisition, orphan
// recovery, and panics all go through this logger rather than through
// execution.log, which is task-scoped and human-facing.
//
// Built on a zap.Config selected by format (text for a terminal, json for
// anything piped to a log aggregator), leveled by a string the caller
// reads from config.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is one of debug|info|warn|error; anything else defaults to info.
	Level string
	// JSON selects zap's production (JSON) encoder instead of a
	// human-readable console encoder.
	JSON bool
}

// New builds a *zap.Logger for the runner process.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level(opts.Level))
	return cfg.Build(zap.AddCaller())
}

func level(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Nop returns a logger that discards everything, for tests and CLI
// subcommands that never spin up a runner.
func Nop() *zap.Logger {
	return zap.NewNop()
}
