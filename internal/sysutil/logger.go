package sysutil

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global zerolog logger: level, JSON or console
// output, and optional hooks. It returns the installed logger.
func SetupLogger(level string, pretty bool, hooks ...zerolog.Hook) zerolog.Logger {
	return setupLogger(os.Stderr, level, pretty, hooks...)
}

func setupLogger(w io.Writer, level string, pretty bool, hooks ...zerolog.Hook) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	l := zerolog.New(w).With().Timestamp().Logger()
	for _, h := range hooks {
		l = l.Hook(h)
	}
	log.Logger = l
	zerolog.DefaultContextLogger = &log.Logger
	return l
}
