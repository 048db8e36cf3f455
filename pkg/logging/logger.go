package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the root zap logger for the engine. Local environments
// get the human-readable development encoder; everything else gets JSON
// production output with ISO 8601 timestamps so log lines correlate with
// upload and poll records.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
