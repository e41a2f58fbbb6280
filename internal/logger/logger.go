package logger

import (
	"fmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Production gets JSON output, everything else
// the human readable development encoder.
func New(production bool, level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	if production {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Nop is used where logging output is irrelevant, mostly tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Boot reports failures that happen before the configured logger exists.
func Boot() *zap.SugaredLogger {
	l, err := New(false, "info")
	if err != nil {
		return Nop()
	}
	return l
}
