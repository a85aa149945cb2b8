package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

// New returns the bootstrap logger used before configuration is loaded.
func New() zerolog.Logger {
	return NewWithConfig(config.LoggingConfig{Level: "info"})
}

// NewWithConfig builds the process-wide root logger. Services derive
// component loggers from it with With().Str("component", ...).
func NewWithConfig(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				return colorizeLevel(i.(string))
			},
		})
	}

	return logger.With().
		Timestamp().
		Str("service", "rse").
		Logger()
}

func colorizeLevel(level string) string {
	switch level {
	case "trace":
		return "\033[35m" + level + "\033[0m"
	case "debug":
		return "\033[36m" + level + "\033[0m"
	case "info":
		return "\033[32m" + level + "\033[0m"
	case "warn":
		return "\033[33m" + level + "\033[0m"
	case "error":
		return "\033[31m" + level + "\033[0m"
	case "fatal", "panic":
		return "\033[91m" + level + "\033[0m"
	default:
		return level
	}
}
