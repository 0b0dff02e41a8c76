package logging

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "OTAFLEET_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks OTAFLEET_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		SetLogger(zap.NewNop())
		return nil
	}

	zapLevel, err := parseLevel(level)
	if err != nil {
		return err
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(built)

	return nil
}

// InitializeFromEnv initializes the logger from the OTAFLEET_LOG_LEVEL
// environment variable. CLI commands use this to stay silent by default.
func InitializeFromEnv() error {
	return Initialize("")
}

// SetLogger replaces the global logger. Tests use it with zaptest/observer
// cores to assert on emitted entries.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (expected debug, info, warn, error)", level)
	}
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// LogConnection logs a connection event.
func LogConnection(remoteAddr string, event string) {
	Info("Connection event",
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogHTTPRequest logs a completed HTTP request.
func LogHTTPRequest(remoteAddr, method, path string, status int, bytes int, requestID string) {
	Debug("HTTP request",
		zap.String("remote_addr", remoteAddr),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.String("request_id", requestID),
	)
}

// LogObservation logs a device contact after it has been merged into the fleet.
func LogObservation(kind, key, ip, approval string) {
	Info("Device observation",
		zap.String("kind", kind),
		zap.String("key", key),
		zap.String("ip", ip),
		zap.String("approval", approval),
	)
}

// LogOperatorAction logs an approve/deny decision and its outcome.
func LogOperatorAction(mac, action string, ok bool, reason string) {
	fields := []zap.Field{
		zap.String("mac", mac),
		zap.String("action", action),
		zap.Bool("ok", ok),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
		Warn("Operator action rejected", fields...)
		return
	}
	Info("Operator action applied", fields...)
}

// LogTransfer logs a transfer lifecycle event (start, complete, abort).
func LogTransfer(key, transferID, event string, bytes, total int64) {
	Info("Firmware transfer",
		zap.String("key", key),
		zap.String("transfer_id", transferID),
		zap.String("event", event),
		zap.Int64("bytes", bytes),
		zap.Int64("total", total),
	)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = GetLogger().Sync()
}
