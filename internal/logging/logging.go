// Package logging builds the zap.Logger used throughout MOTRA, following the
// buildLogger idiom in arkeep's cmd/*/main.go: development (console) config
// at debug level, production (JSON) config otherwise, with
// an explicit level override layered on top.
package logging

import "go.uber.org/zap"

// Build constructs a *zap.Logger for the given level string (debug, info,
// warn, error). Unrecognised levels fall back to info.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
