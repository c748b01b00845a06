package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is an alias so the rest of the codebase depends on infra for
// logging instead of importing zerolog everywhere.
type Logger = zerolog.Logger

// NewLogger returns the service logger. Production emits JSON at info
// level; development switches to debug with a human-readable console
// writer so long generation runs are easy to follow locally.
func NewLogger(appEnv string) zerolog.Logger {
	dev := appEnv == "development"

	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
