// Package logger provides structured logging for the realtime sync core.
//
// Uses zap with AtomicLevel so the CLI can raise verbosity at runtime.
// JSON format for long-running processes, console for interactive use.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu          sync.RWMutex
	global      *zap.Logger
	atomicLevel = zap.NewAtomicLevel()
	once        sync.Once
)

// Init initializes the global logger.
// level: debug, info, warn, error
// format: json or console
func Init(level, format string) error {
	return initWith(level, format)
}

func initWith(level, format string, opts ...zap.Option) error {
	var initErr error
	once.Do(func() {
		if err := atomicLevel.UnmarshalText([]byte(level)); err != nil {
			initErr = fmt.Errorf("parse log level %q: %w", level, err)
			return
		}

		var cfg zap.Config
		switch format {
		case "console":
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		default:
			cfg = zap.NewProductionConfig()
		}
		cfg.Level = atomicLevel

		// The package-level helpers add one frame.
		l, err := cfg.Build(append([]zap.Option{zap.AddCallerSkip(1)}, opts...)...)
		if err != nil {
			initErr = fmt.Errorf("build logger: %w", err)
			return
		}
		set(l)
	})
	return initErr
}

// SetLevel dynamically changes the log level.
func SetLevel(level string) error {
	return atomicLevel.UnmarshalText([]byte(level))
}

// GetLevel returns the current log level.
func GetLevel() zapcore.Level {
	return atomicLevel.Level()
}

// L returns the global logger. Before Init it returns a no-op logger so
// library code and tests never have to care about initialization order.
func L() *zap.Logger {
	return helper().WithOptions(zap.AddCallerSkip(-1))
}

// helper returns the global logger with the caller skip the package-level
// functions need.
func helper() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Named returns a child of the global logger scoped to a component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// ReplaceForTest swaps the global logger and returns a restore func.
func ReplaceForTest(l *zap.Logger) func() {
	mu.Lock()
	prev := global
	global = l.WithOptions(zap.AddCallerSkip(1))
	mu.Unlock()
	return func() { set(prev) }
}

func set(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// Debug logs a message at DebugLevel.
func Debug(msg string, fields ...zap.Field) {
	helper().Debug(msg, fields...)
}

// Info logs a message at InfoLevel.
func Info(msg string, fields ...zap.Field) {
	helper().Info(msg, fields...)
}

// Warn logs a message at WarnLevel.
func Warn(msg string, fields ...zap.Field) {
	helper().Warn(msg, fields...)
}

// Error logs a message at ErrorLevel.
func Error(msg string, fields ...zap.Field) {
	helper().Error(msg, fields...)
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
