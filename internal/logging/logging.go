// Package logging builds the process logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mohammad-safakhou/essaygen/config"
)

// New builds a zap logger from the general config section. Debug forces the
// development encoder at debug level.
func New(cfg config.GeneralConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	switch strings.ToLower(cfg.LogFormat) {
	case "console":
		zc.Encoding = "console"
	case "json":
		zc.Encoding = "json"
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// RedirectStdLog sends the standard library logger, which third-party clients
// print through, to logger at debug level. Call the returned func to restore it.
func RedirectStdLog(logger *zap.Logger) (func(), error) {
	return zap.RedirectStdLogAt(logger.Named("stdlog"), zapcore.DebugLevel)
}
