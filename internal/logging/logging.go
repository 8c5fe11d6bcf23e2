// Package logging builds the zap-backed sink for the engine's logging
// capability. Output goes to stderr so stdout stays free for the MCP stdio
// transport.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a stderr logger at the given level (debug, info, warn, error).
// An empty or unknown level falls back to info; verbose forces debug. The
// returned *zap.SugaredLogger satisfies the adt.Logger interface.
func New(level string, verbose bool) *zap.SugaredLogger {
	atomicLevel := zap.NewAtomicLevel()
	if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
		atomicLevel.SetLevel(zap.InfoLevel)
	}
	if verbose {
		atomicLevel.SetLevel(zap.DebugLevel)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		atomicLevel,
	)
	return zap.New(core).Sugar()
}
