// Package logger provides the proxy's structured logging setup.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the base logger for the proxy. verbosity 0 is info, 1 is
// debug, 2+ is debug with stack traces on warn and above. The console
// encoder is the same at every level.
func New(verbosity int, noColor bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if verbosity >= 1 {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if !noColor {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		level,
	)

	opts := []zap.Option{zap.AddCaller()}
	if verbosity >= 2 {
		opts = append(opts, zap.AddStacktrace(zapcore.WarnLevel))
	}

	return zap.New(core, opts...).Sugar()
}

// Nop returns a logger that discards everything, for use in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
