// Package logging builds the zap loggers used across the pipeline.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AlertField marks log entries emitted at the two critical sites (VPN
// timeout, terminal retry exhaustion) so they can be routed by log
// collectors without a dedicated severity above Error.
const AlertField = "alert"

// New returns a named production logger. Level comes from LOG_LEVEL
// (debug|info|warn|error), defaulting to info. Output is JSON on stderr.
func New(component string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv())
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// zap only fails to build on bad sink paths; stderr is always valid.
		panic(err)
	}
	return logger.Named(component)
}

// NewNop returns a logger that discards everything. Used by tests and as
// the default when a component is constructed without a logger.
func NewNop() *zap.Logger {
	return zap.NewNop()
}

func levelFromEnv() zapcore.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
