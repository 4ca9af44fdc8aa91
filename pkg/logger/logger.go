package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var InfoLogger *zap.Logger

var (
	serviceName = "default"
)

func SetServiceName(newName string) string {
	oldName := serviceName
	serviceName = newName

	return oldName
}

// Init собирает production-логгер с нужным уровнем и ставит его глобально.
func Init(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	l = l.With(zap.String("service", serviceName))

	InfoLogger = l
	zap.ReplaceGlobals(l)
	return l, nil
}

// Named логгер компонента. До Init возвращает no-op, чтобы тесты не падали.
func Named(component string) *zap.Logger {
	if InfoLogger == nil {
		return zap.NewNop()
	}
	if component == "" {
		return InfoLogger
	}
	return InfoLogger.Named(component)
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Info printf-обёртка для редких сообщений старта.
func Info(format string, args ...interface{}) {
	Named("").Info(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	Named("").Error(fmt.Sprintf(format, args...))
}
