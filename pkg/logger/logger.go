// Package logger provides a package-level structured logger used across fedmcp.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger
)

// Initialize sets up the global logger. Safe to call multiple times;
// the last call wins. Honors the DEBUG=true / LOG_FORMAT=json environment
// variables, read directly from the process environment.
func Initialize() {
	level := zapcore.InfoLevel
	if os.Getenv("DEBUG") == "true" {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	if os.Getenv("LOG_FORMAT") != "json" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op logger rather than panic on startup.
		z = zap.NewNop()
	}

	mu.Lock()
	log = z.Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if log == nil {
		// Lazily initialize so packages that log before Initialize()
		// runs (e.g. in tests) don't nil-panic.
		mu.RUnlock()
		Initialize()
		mu.RLock()
	}
	return log
}

// Infof logs at info level.
func Infof(format string, args ...any) { get().Infof(format, args...) }

// Info logs a message at info level.
func Info(msg string) { get().Info(msg) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { get().Debugf(format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { get().Warnf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { get().Errorf(format, args...) }

// With returns a logger scoped with the given key/value pairs, for
// callers that annotate every log line with the same context.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return get().With(keysAndValues...)
}
