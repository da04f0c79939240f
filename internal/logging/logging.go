// Package logging builds the process logger.
//
// Every log line goes to the console core. A second "syslog" core, gated by
// the device's syslog_level setting, writes to the host log file standing
// in for the remote syslog server.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures [New].
type Options struct {
	// Console receives human-facing log lines. Default: os.Stderr.
	Console io.Writer

	// ConsoleLevel is the console threshold. Default: info.
	ConsoleLevel zapcore.Level

	// Format is FormatConsole (default) or FormatJSON.
	Format string

	// SyslogPath is the file the syslog core appends to. Empty disables
	// the syslog core.
	SyslogPath string
}

// Logger is a zap logger with a runtime-adjustable syslog threshold.
type Logger struct {
	*zap.Logger

	syslog  zap.AtomicLevel
	level   Level
	closers []func()
}

// New builds a logger. Callers must Close it.
func New(opts Options) (*Logger, error) {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	encoder, err := newEncoder(opts.Format)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		syslog: zap.NewAtomicLevelAt(LevelOff.Zap()),
		level:  LevelOff,
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(opts.Console), opts.ConsoleLevel),
	}

	if opts.SyslogPath != "" {
		sink, closeSink, err := zap.Open(opts.SyslogPath)
		if err != nil {
			return nil, fmt.Errorf("open syslog file: %w", err)
		}

		l.closers = append(l.closers, closeSink)

		// The syslog file is always JSON so it can be shipped as-is.
		fileEncoder, _ := newEncoder(FormatJSON)
		cores = append(cores, zapcore.NewCore(fileEncoder, sink, l.syslog))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...))

	return l, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder

		return zapcore.NewConsoleEncoder(cfg), nil
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder

		return zapcore.NewJSONEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want %q or %q)", format, FormatConsole, FormatJSON)
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		Logger: zap.NewNop(),
		syslog: zap.NewAtomicLevelAt(LevelOff.Zap()),
		level:  LevelOff,
	}
}

// Wrap adapts an existing zap logger, e.g. one from zaptest/observer.
// The syslog threshold is tracked but gates nothing.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{
		Logger: z,
		syslog: zap.NewAtomicLevelAt(LevelOff.Zap()),
		level:  LevelOff,
	}
}

// SetSyslogLevel changes the syslog threshold.
func (l *Logger) SetSyslogLevel(level Level) {
	if level == l.level {
		return
	}

	l.level = level
	l.syslog.SetLevel(level.Zap())
	l.Named("syslog").Info("Log level changed", zap.Stringer("level", level))
}

// SyslogLevel returns the current syslog threshold.
func (l *Logger) SyslogLevel() Level {
	return l.level
}

// Mark writes a syslog mark line so a quiet device is seen to be alive.
func (l *Logger) Mark() {
	l.Named("syslog").Info("-- MARK --")
}

// Close flushes and releases the log file.
func (l *Logger) Close() error {
	err := l.Sync()

	// Syncing a terminal returns EINVAL on Linux.
	if err != nil && isIgnorableSyncError(err) {
		err = nil
	}

	for _, c := range l.closers {
		c()
	}

	l.closers = nil

	return err
}

func isIgnorableSyncError(err error) bool {
	for _, e := range multierr.Errors(err) {
		if !isTerminalSyncError(e) {
			return false
		}
	}

	return true
}
