// Package log provides the small leveled logging facade used throughout this
// module. It follows the call/level/filter shape used across the codebase:
// a Logger sink, a Level-filtering wrapper, and a Helper offering
// leveled/formatted convenience methods over both.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level is a logging severity.
type Level int8

// Severity levels, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level's name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the sink every log call is ultimately written through.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes to an io.Writer via the standard library's log package.
type stdLogger struct {
	mu  sync.Mutex
	log *log.Logger
}

// NewStdLogger returns a Logger that writes lines of the form
// "<date> <time> LEVEL message" to w, where message is keyvals formatted
// with fmt.Sprint.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{log: log.New(w, "", log.LstdFlags)}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprint(keyvals...)
	l.log.Printf("%s %s", level, msg)
	return nil
}

// filter wraps a Logger, dropping any record below its configured level.
type filter struct {
	logger Logger
	level  Level
}

// FilterOption configures a filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level that passes through the filter.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter returns a Logger that only forwards records at or above the
// configured level to logger.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}

// Helper adds leveled, printf-style convenience methods over a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger in a Helper.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

// Debug logs at debug level.
func (h *Helper) Debug(a ...interface{}) { h.logger.Log(LevelDebug, a...) }

// Debugf logs a formatted message at debug level.
func (h *Helper) Debugf(format string, a ...interface{}) {
	h.logger.Log(LevelDebug, fmt.Sprintf(format, a...))
}

// Info logs at info level.
func (h *Helper) Info(a ...interface{}) { h.logger.Log(LevelInfo, a...) }

// Infof logs a formatted message at info level.
func (h *Helper) Infof(format string, a ...interface{}) {
	h.logger.Log(LevelInfo, fmt.Sprintf(format, a...))
}

// Warn logs at warn level.
func (h *Helper) Warn(a ...interface{}) { h.logger.Log(LevelWarn, a...) }

// Warnf logs a formatted message at warn level.
func (h *Helper) Warnf(format string, a ...interface{}) {
	h.logger.Log(LevelWarn, fmt.Sprintf(format, a...))
}

// Error logs at error level.
func (h *Helper) Error(a ...interface{}) { h.logger.Log(LevelError, a...) }

// Errorf logs a formatted message at error level.
func (h *Helper) Errorf(format string, a ...interface{}) {
	h.logger.Log(LevelError, fmt.Sprintf(format, a...))
}

// Discard is a Helper that drops every record; used where a caller doesn't
// wire a logger and defaults apply.
func Discard() *Helper {
	return NewHelper(NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelError + 1)))
}
