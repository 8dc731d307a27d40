// Package logging builds the service's zap loggers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log line.
const ServiceName = "reddit-leadgen"

// New builds a zap.Logger. Development loggers are colored console loggers at
// debug level; production loggers write JSON with ISO8601 timestamps. Extra
// options are applied before the service field is attached.
func New(development bool, opts ...zap.Option) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	mode := "production"
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		mode = "development"
	} else {
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	opts = append(opts, zap.Fields(zap.String("service", ServiceName)))
	logger, err := cfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build %s logger: %w", mode, err)
	}
	return logger, nil
}

// Redact logs a credential as its last four characters.
func Redact(key, value string) zap.Field {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return zap.String(key, "")
	case len(value) <= 4:
		return zap.String(key, "****")
	default:
		return zap.String(key, "****"+value[len(value)-4:])
	}
}
