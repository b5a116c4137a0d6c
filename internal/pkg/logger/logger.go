package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	defaultLogger *logrus.Logger
	once          sync.Once
	mu            sync.Mutex
)

// Config controls where and how log records are written.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or text
	File       string // empty writes to stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Initialize sets up the structured logger with JSON output on stderr
func Initialize() {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.JSONFormatter{})
		l.SetLevel(logrus.InfoLevel)
		defaultLogger = l
	})
}

// Configure applies cfg to the default logger. An unknown level or format is an error
// and leaves the logger unchanged.
func Configure(cfg Config) error {
	Initialize()

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var formatter logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		formatter = &logrus.JSONFormatter{}
	case "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
	}

	mu.Lock()
	defer mu.Unlock()
	defaultLogger.SetLevel(level)
	defaultLogger.SetFormatter(formatter)
	defaultLogger.SetOutput(out)
	return nil
}

// Get returns the default structured logger
func Get() *logrus.Logger {
	Initialize()
	return defaultLogger
}

// SetOutput redirects the default logger, mostly useful in tests.
func SetOutput(w io.Writer) {
	Initialize()
	mu.Lock()
	defer mu.Unlock()
	defaultLogger.SetOutput(w)
}

// IsDebugEnabled reports whether debug records are emitted.
func IsDebugEnabled() bool {
	return Get().IsLevelEnabled(logrus.DebugLevel)
}

// fields converts alternating key/value arguments into logrus fields.
// A trailing key without a value is kept under "!BADKEY", as slog does.
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		if i+1 >= len(args) {
			f["!BADKEY"] = args[i]
			break
		}
		f[key] = args[i+1]
	}
	return f
}

func entry(ctx context.Context, args []any) *logrus.Entry {
	e := Get().WithFields(fields(args))
	if ctx != nil {
		e = e.WithContext(ctx)
	}
	return e
}

// Info logs an info level message
func Info(msg string, args ...any) {
	entry(nil, args).Info(msg)
}

// InfoContext logs an info level message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	entry(ctx, args).Info(msg)
}

// Warn logs a warning level message
func Warn(msg string, args ...any) {
	entry(nil, args).Warn(msg)
}

// WarnContext logs a warning level message with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	entry(ctx, args).Warn(msg)
}

// Error logs an error level message
func Error(msg string, args ...any) {
	entry(nil, args).Error(msg)
}

// Debug logs a debug level message
func Debug(msg string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	entry(nil, args).Debug(msg)
}

// With returns a logger entry carrying the given attributes
func With(args ...any) *logrus.Entry {
	return Get().WithFields(fields(args))
}
