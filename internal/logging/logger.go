package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

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
	}
	return "UNKNOWN"
}

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

var (
	sinkInstance *sink
	sinkOnce     sync.Once
)

// sink is the shared destination every component logger writes through.
type sink struct {
	mu     sync.Mutex
	out    *log.Logger
	level  Level
	closer io.Closer
}

func defaultSink() *sink {
	sinkOnce.Do(func() {
		sinkInstance = newSink(defaultLogPath(), LevelInfo)
	})
	return sinkInstance
}

func defaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".huntly", "huntlyd.log")
}

func newSink(path string, level Level) *sink {
	s := &sink{level: level}
	if path == "" {
		return s
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("logging: create log dir: %v", err)
		return s
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logging: open log file: %v", err)
		return s
	}
	s.out = log.New(file, "", 0)
	s.closer = file
	return s
}

// SetLevel adjusts the minimum level emitted by all component loggers.
func SetLevel(level Level) {
	s := defaultSink()
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (s *sink) write(level Level, component, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level || s.out == nil {
		return
	}
	if component == "" {
		component = "huntlyd"
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	s.out.Printf("%s [%s] [%s] %s", timestamp, level, component, message)
}

type componentLogger struct {
	sink      *sink
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{sink: defaultSink(), component: component}
}

func (l *componentLogger) Debug(format string, args ...any) {
	l.sink.write(LevelDebug, l.component, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	l.sink.write(LevelInfo, l.component, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	l.sink.write(LevelWarn, l.component, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	l.sink.write(LevelError, l.component, format, args...)
}
