package logging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
)

// ErrLevel is returned by [ParseLevel] for unrecognised names.
var ErrLevel = errors.New("invalid log level")

// Level is a syslog severity, plus OFF and ALL. The numeric values are
// persisted in the device config and must not change.
type Level int8

// Levels, most severe first.
const (
	LevelOff Level = iota - 1
	LevelEmerg
	LevelAlert
	LevelCrit
	LevelErr
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
	LevelTrace
	LevelAll
)

var levelNames = [...]string{
	"OFF", "EMERG", "ALERT", "CRIT", "ERR", "WARNING", "NOTICE", "INFO", "DEBUG", "TRACE", "ALL",
}

// Levels returns every level from OFF to ALL.
func Levels() []Level {
	levels := make([]Level, 0, len(levelNames))
	for l := LevelOff; l <= LevelAll; l++ {
		levels = append(levels, l)
	}

	return levels
}

// Valid reports whether l is a declared level.
func (l Level) Valid() bool {
	return l >= LevelOff && l <= LevelAll
}

func (l Level) String() string {
	if !l.Valid() {
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}

	return levelNames[l+1]
}

// ParseLevel parses a level name, case-insensitively. "error" and "warn"
// are accepted as aliases.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))

	switch name {
	case "ERROR":
		return LevelErr, nil
	case "WARN":
		return LevelWarning, nil
	}

	for i, n := range levelNames {
		if n == name {
			return Level(i - 1), nil
		}
	}

	return LevelOff, fmt.Errorf("%w: %q", ErrLevel, s)
}

// zapDisabled is above every level zap emits.
const zapDisabled = zapcore.FatalLevel + 1

// Zap maps l onto the nearest zap level. OFF maps above Fatal so nothing
// is enabled.
func (l Level) Zap() zapcore.Level {
	switch {
	case l <= LevelOff:
		return zapDisabled
	case l <= LevelErr:
		return zapcore.ErrorLevel
	case l == LevelWarning:
		return zapcore.WarnLevel
	case l <= LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
