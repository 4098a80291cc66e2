// Package log is the Engine-wide structured logger, a thin wrapper around
// zerolog matching the call-site shape the teacher's components use
// (Info/Infof/Warnf/Errorf) while keeping zerolog's structured field API
// available to callers that want it.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(w).With().Timestamp().Logger()
}

// Configure switches the global logger between console (development) and
// JSON (production) output.
func Configure(json bool, out io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		out = os.Stdout
	}
	if json {
		logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// With returns a sub-logger context for structured-field logging, e.g.
// log.With().Str("symbol", sym).Logger().Info().Msg("scanned").
func With() zerolog.Context {
	mu.RLock()
	defer mu.RUnlock()
	return logger.With()
}

func Info(msg string) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Info().Msg(msg)
}

func Infof(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Warn().Msgf(format, args...)
}

func Errorf(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Error().Msgf(format, args...)
}

func Error(err error, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Error().Err(err).Msg(msg)
}
