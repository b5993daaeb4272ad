// Package logger is a leveled logger whose entries carry the module that
// produced them. Output goes through logrus.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levels = [...]struct {
	name   string
	logrus logrus.Level
}{
	DEBUG: {"DEBUG", logrus.DebugLevel},
	INFO:  {"INFO", logrus.InfoLevel},
	WARN:  {"WARN", logrus.WarnLevel},
	ERROR: {"ERROR", logrus.ErrorLevel},
}

// Logger tags every entry with the module that produced it
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	base  *logrus.Logger
	exit  func(int)
}

var (
	stdMu sync.RWMutex
	std   = New(INFO, os.Stderr, false)
	once  sync.Once
)

// Init replaces the package logger. Only the first call has an effect.
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		l := New(level, output, useColor)
		stdMu.Lock()
		std = l
		stdMu.Unlock()
	})
}

func current() *Logger {
	stdMu.RLock()
	defer stdMu.RUnlock()
	return std
}

// New creates a Logger writing to output (stderr when nil).
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(logrus.DebugLevel)
	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:     useColor,
		DisableColors:   !useColor,
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})

	return &Logger{level: level, base: base, exit: os.Exit}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) entry(module string) *logrus.Entry {
	e := logrus.NewEntry(l.base)
	if module != "" {
		e = e.WithField("module", module)
	}
	return e
}

func (l *Logger) log(level LogLevel, module, format string, args ...interface{}) {
	if level < l.GetLevel() || level >= SILENT {
		return
	}
	l.entry(module).Logf(levels[level].logrus, format, args...)
}

func (l *Logger) Debug(module, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

func (l *Logger) Info(module, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

func (l *Logger) Warn(module, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

func (l *Logger) Error(module, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Fatal logs at error level whatever the configured level is, then exits 1.
func (l *Logger) Fatal(module, format string, args ...interface{}) {
	l.entry(module).Logf(logrus.ErrorLevel, format, args...)
	l.exit(1)
}

// Package-level helpers write through the logger set by Init.

func SetLevel(level LogLevel) { current().SetLevel(level) }
func GetLevel() LogLevel      { return current().GetLevel() }

func Debug(module, format string, args ...interface{}) { current().Debug(module, format, args...) }
func Info(module, format string, args ...interface{})  { current().Info(module, format, args...) }
func Warn(module, format string, args ...interface{})  { current().Warn(module, format, args...) }
func Error(module, format string, args ...interface{}) { current().Error(module, format, args...) }
func Fatal(module, format string, args ...interface{}) { current().Fatal(module, format, args...) }

// ParseLevel accepts level names in any case, plus "warning" and "none".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

func (l LogLevel) String() string {
	switch {
	case l == SILENT:
		return "SILENT"
	case l >= DEBUG && l < SILENT:
		return levels[l].name
	}
	return "UNKNOWN"
}
