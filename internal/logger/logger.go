package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap sugared logger so the rest of the bot does not depend on
// zap types directly.
type Logger struct {
	sugar *zap.SugaredLogger
	base  *zap.Logger
}

// New builds a logger writing to stdout and, when logFile is non-empty, to a
// JSON-encoded file as well. Level is one of debug/info/warn/error.
func New(level, logFile string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), lvl),
	}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.Lock(f), lvl))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{sugar: base.Sugar(), base: base}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{sugar: base.Sugar(), base: base}
}

// Named returns a child logger with the given component name attached.
func (l *Logger) Named(name string) *Logger {
	child := l.base.Named(name)
	return &Logger{sugar: child.Sugar(), base: child}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync flushes buffered log entries. Safe to call on shutdown.
func (l *Logger) Sync() {
	_ = l.base.Sync()
}
