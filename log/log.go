// Package log keeps the printf-style Infof/Errorf surface the rest of the
// tool expects, backed by zerolog console output.
package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger = newLogger("smudbg", false)

func newLogger(app string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}

// Init replaces the default logger. Pass debug=true to let Debugf through.
func Init(app string, debug bool) {
	logger = newLogger(app, debug)
}

func Errorf(format string, args ...interface{}) {
	logger.Error().Msgf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	logger.Warn().Msgf(format, args...)
}

func Infof(format string, args ...interface{}) {
	logger.Info().Msgf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	logger.Debug().Msgf(format, args...)
}

func Info(msg string) {
	logger.Info().Msg(msg)
}

func Error(msg string) {
	logger.Error().Msg(msg)
}
