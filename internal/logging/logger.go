package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jakubmeysner/kobweb/internal/config"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	// Default to a production logger until SetGlobal is called
	globalLogger, _ = zap.NewProduction()
}

// ParseLevel maps a config level string to a zap level. TRACE has no zap
// equivalent and collapses into DEBUG. Unknown values default to INFO.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "trace", "TRACE", "debug", "DEBUG":
		return zapcore.DebugLevel
	case "warn", "WARN":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a zap logger from the server's logging config. Console and
// file sinks are independent: the console core uses a human-readable
// encoder, the file core writes JSON and rotates via lumberjack.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	lvl := ParseLevel(cfg.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	if cfg.EnableConsoleLogging {
		consoleEncCfg := encCfg
		consoleEncCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncCfg),
			zapcore.Lock(os.Stdout),
			lvl,
		))
	}

	if cfg.EnableFileLogging {
		logFile := filepath.Join(cfg.LogRoot, cfg.LogFileBaseName+".log")
		if cfg.ClearLogsOnStart {
			clearLogs(cfg.LogRoot, cfg.LogFileBaseName)
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    cfg.MaxFileSizeMegabytes,
			MaxBackups: cfg.MaxFileCount,
			Compress:   cfg.CompressHistory,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			zapcore.AddSync(rotator),
			lvl,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip one level to account for our wrapper functions
	), nil
}

// clearLogs removes the current log file and any rotated siblings that share
// its base name. Other files in the log root are left alone.
func clearLogs(root, baseName string) {
	matches, err := filepath.Glob(filepath.Join(root, baseName+"*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Global().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Global().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Global().Error(msg, fields...)
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Global().Debug(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Global().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	Global().Sync()
}
