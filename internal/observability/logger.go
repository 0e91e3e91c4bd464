// Package observability defines shared logging and metrics primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for constructing a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts a stdlib log.Logger to the Logger interface.
type StdLogger struct {
	inner *log.Logger
	debug bool
}

// NewStdLogger wraps the provided stdlib logger. Debug lines are dropped
// unless debug is set.
func NewStdLogger(inner *log.Logger, debug bool) *StdLogger {
	if inner == nil {
		inner = log.Default()
	}
	return &StdLogger{inner: inner, debug: debug}
}

func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.inner.Println(render("DEBUG", msg, fields))
}

func (l *StdLogger) Info(msg string, fields ...Field) {
	l.inner.Println(render("INFO", msg, fields))
}

func (l *StdLogger) Error(msg string, fields ...Field) {
	l.inner.Println(render("ERROR", msg, fields))
}

func render(level, msg string, fields []Field) string {
	parts := make([]string, 0, len(fields)+2)
	parts = append(parts, level, msg)
	for _, f := range fields {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	return strings.Join(parts, " ")
}
