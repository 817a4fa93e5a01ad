package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a LOG_LEVEL string to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(strings.ToLower(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// New builds the JSON production logger shared by all services.
// When service is non-empty every entry carries a "service" field.
func New(level string, service ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"

	var opts []zap.Option
	if len(service) > 0 && strings.TrimSpace(service[0]) != "" {
		opts = append(opts, zap.Fields(zap.String("service", strings.TrimSpace(service[0]))))
	}
	return cfg.Build(opts...)
}
