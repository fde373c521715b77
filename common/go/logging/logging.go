// Package logging initializes the process-wide zap logger shared by every
// component of ipcounterd (capture loop, timer, sink adapter), so a single
// level flip (SIGHUP-free, via the returned AtomicLevel) affects all of
// them without a restart.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init builds a console-encoded logger writing to stderr, color-coded when
// stderr is a terminal. It returns the AtomicLevel backing the logger so
// callers (cmd/ipcounterd) can adjust verbosity at runtime.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}

// Nop returns a logger that discards everything, for use in tests that
// don't want capture/timer/sink log noise.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
