package kgo

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LogLevel designates which level the logger should log at.
type LogLevel int8

const (
	// LogLevelNone disables logging.
	LogLevelNone LogLevel = iota
	// LogLevelError logs all errors. Generally, these should not happen.
	LogLevelError
	// LogLevelWarn logs all warnings, such as failed broker connects.
	LogLevelWarn
	// LogLevelInfo logs informational messages, such as broker connects
	// and disconnects.
	LogLevelInfo
	// LogLevelDebug logs verbose information, and is usually not used in
	// production.
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	}
	return "NONE"
}

// Logger is used to log informational messages about a client's broker
// connections and produce calls.
type Logger interface {
	// Level returns the log level to log at.
	//
	// Implementations can change their log level on the fly, but this
	// function must be safe to call concurrently.
	Level() LogLevel

	// Log logs a message with key, value pair arguments for the given
	// log level.
	//
	// This must be safe to call concurrently.
	Log(level LogLevel, msg string, keyvals ...interface{})
}

var levelColors = map[LogLevel]*color.Color{
	LogLevelError: color.New(color.FgRed, color.Bold),
	LogLevelWarn:  color.New(color.FgYellow),
	LogLevelInfo:  color.New(color.FgCyan),
	LogLevelDebug: color.New(color.FgWhite, color.Faint),
}

// BasicLogger returns a logger that prints to stderr in the format:
//
//	[LEVEL] message; key: val, key: val
//
// with the level colorized when stderr is a terminal.
func BasicLogger(level LogLevel) Logger {
	return &basicLogger{level: level}
}

type basicLogger struct {
	level LogLevel
	mu    sync.Mutex
}

func (b *basicLogger) Level() LogLevel { return b.level }

func (b *basicLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	var sb strings.Builder
	c, ok := levelColors[level]
	if ok {
		sb.WriteString(c.Sprintf("[%s]", level))
	} else {
		fmt.Fprintf(&sb, "[%s]", level)
	}
	sb.WriteByte(' ')
	sb.WriteString(msg)

	if len(keyvals) > 0 {
		sb.WriteString("; ")
		format := strings.Repeat("%v: %v, ", len(keyvals)/2)
		format = format[:len(format)-2] // trim trailing comma and space
		fmt.Fprintf(&sb, format, keyvals...)
	}
	sb.WriteByte('\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	os.Stderr.WriteString(sb.String())
}

// nopLogger, the default logger, drops everything.
type nopLogger struct{}

func (*nopLogger) Level() LogLevel { return LogLevelNone }
func (*nopLogger) Log(LogLevel, string, ...interface{}) {}

// wrappedLogger wraps the configured logger so callsites can log
// unconditionally without each checking Level() themselves.
type wrappedLogger struct {
	inner Logger
}

func (w *wrappedLogger) Level() LogLevel {
	if w.inner == nil {
		return LogLevelNone
	}
	return w.inner.Level()
}

func (w *wrappedLogger) Log(level LogLevel, msg string, keyvals ...interface{}) {
	if w.Level() < level {
		return
	}
	w.inner.Log(level, msg, keyvals...)
}
