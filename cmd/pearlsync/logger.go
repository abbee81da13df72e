// Package main - logger.go builds the zap logger used by the daemon.
//
// # Log Format
//
// Console output (the default) is meant for terminals and journald:
//
//	10:30:45.123  INFO  sync  published local change  {"size": 12, "timestamp": 1705314645123}
//
// JSON output (--log-format json) is one object per line with ISO 8601
// timestamps, for log shippers.
//
// # Component Loggers
//
// Each package takes a small Debug/Info/Error interface with alternating
// key/value pairs. logger adapts a zap.SugaredLogger to that interface and
// named() gives every component its own logger name:
//
//	log := newLogger(zl)
//	engineLog := log.named("sync")
//	brokerLog := log.named("broker")
//
// Logs go to stderr so that paste and status output on stdout stays clean.
package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logOptions selects level and encoding.
type logOptions struct {
	Level   string
	Format  string
	Verbose bool
}

// buildZap constructs the zap logger for opts. Verbose forces debug level.
func buildZap(opts logOptions) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	var zcfg zap.Config
	switch strings.ToLower(opts.Format) {
	case "json":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console", "":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log format %q (want console or json)", opts.Format)
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	// Callers are reported from the adapter's caller, not the adapter.
	return zcfg.Build(zap.AddCallerSkip(1))
}

// parseLevel converts a level name to a zap level.
func parseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", lvl)
	}
}

// logger adapts a SugaredLogger to the Logger interfaces of the sync,
// broker and api packages.
type logger struct {
	sugar *zap.SugaredLogger
}

// newLogger wraps zl.
func newLogger(zl *zap.Logger) *logger {
	return &logger{sugar: zl.Sugar()}
}

// named returns a child logger for a component.
func (l *logger) named(name string) *logger {
	return &logger{sugar: l.sugar.Named(name)}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs an info message.
func (l *logger) Info(msg string, keysAndValues ...any) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Error logs an error message.
func (l *logger) Error(msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// sync flushes buffered entries. Errors from syncing a terminal are
// expected and ignored.
func (l *logger) sync() {
	_ = l.sugar.Sync()
}
