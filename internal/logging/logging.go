// Package logging is a thin leveled wrapper over the standard logger with
// component prefixes.
package logging

import (
	"fmt"
	"log"
	"strings"
)

// Level gates log output.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps DEBUG|INFO|WARNING|ERROR to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger wraps log.Logger with a minimum level.
type Logger struct {
	l     *log.Logger
	level Level
}

// New creates a prefixed logger, e.g. New("[QUEUE] ", LevelInfo).
func New(prefix string, level Level) *Logger {
	return &Logger{
		l:     log.New(log.Writer(), prefix, log.LstdFlags),
		level: level,
	}
}

func (lg *Logger) Debugf(format string, args ...interface{}) {
	if lg.level <= LevelDebug {
		lg.l.Printf(format, args...)
	}
}

func (lg *Logger) Infof(format string, args ...interface{}) {
	if lg.level <= LevelInfo {
		lg.l.Printf(format, args...)
	}
}

func (lg *Logger) Warnf(format string, args ...interface{}) {
	if lg.level <= LevelWarning {
		lg.l.Printf(format, args...)
	}
}

func (lg *Logger) Errorf(format string, args ...interface{}) {
	if lg.level <= LevelError {
		lg.l.Printf(format, args...)
	}
}
