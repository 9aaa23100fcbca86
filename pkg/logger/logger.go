package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/zfogg/emoine/pkg/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = log.NewWithOptions(stderr{}, log.Options{
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	format = "text"
)

// stderr resolves os.Stderr on every write so a redirected stderr is honored
type stderr struct{}

func (stderr) Write(p []byte) (int, error) {
	return os.Stderr.Write(p)
}

// Init initializes the logger from the loaded configuration.
// verbose forces debug level regardless of log.level.
func Init(verbose bool) {
	logLevel := parseLevel(config.GetString("log.level"))
	if verbose {
		logLevel = log.DebugLevel
	}

	var w io.Writer = stderr{}
	if logFile := config.GetString("log.file"); logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    config.GetInt("log.max_size_mb"),
			MaxBackups: config.GetInt("log.max_backups"),
			Compress:   true,
		}
	}

	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           logLevel,
	})
	f := normalizeFormat(config.GetString("log.format"))
	l.SetFormatter(parseFormatter(f))

	mu.Lock()
	logger, format = l, f
	mu.Unlock()
}

// SetOutput replaces the logger with one writing plain text to w at debug level.
func SetOutput(w io.Writer) {
	SetOutputFormat(w, "text")
}

// SetOutputFormat is SetOutput with a text, json or logfmt formatter
func SetOutputFormat(w io.Writer, f string) {
	f = normalizeFormat(f)
	l := log.NewWithOptions(w, log.Options{Level: log.DebugLevel})
	l.SetFormatter(parseFormatter(f))

	mu.Lock()
	logger, format = l, f
	mu.Unlock()
}

// Structured reports whether lines are written as JSON or logfmt records
func Structured() bool {
	mu.RLock()
	defer mu.RUnlock()
	return format != "text"
}

func normalizeFormat(f string) string {
	switch f = strings.ToLower(f); f {
	case "json", "logfmt":
		return f
	default:
		return "text"
	}
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func parseFormatter(format string) log.Formatter {
	switch format {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	current().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	current().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	current().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	current().Error(msg, args...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...interface{}) {
	current().Fatal(msg, args...)
}

// GetLogger returns the logger instance
func GetLogger() *log.Logger {
	return current()
}
