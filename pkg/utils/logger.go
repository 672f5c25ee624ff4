package utils

import "go.uber.org/zap"

// NewLogger builds the process logger: development config (console output,
// debug level) when debug is set, production config (JSON, info level)
// otherwise.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
