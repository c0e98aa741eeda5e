package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	defaultLogger zerolog.Logger
	once          sync.Once
)

// Init initializes the process-wide logger. Level is one of debug, info,
// warn, error; pretty enables console output instead of JSON. It is safe to
// call multiple times; only the first call takes effect.
func Init(level string, pretty bool) {
	once.Do(func() {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil || level == "" {
			lvl = zerolog.InfoLevel
		}

		var w = os.Stdout
		if pretty {
			defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
				Level(lvl).With().Timestamp().Logger()
		} else {
			defaultLogger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
		}
	})
}

// Get returns the initialized default logger, initializing it with defaults
// if Init was never called.
func Get() *zerolog.Logger {
	Init("info", false)
	return &defaultLogger
}

// Info logs an informational message with optional key/value fields.
func Info(msg string, fields map[string]any) {
	Get().Info().Fields(fields).Msg(msg)
}

// Warn logs a warning message with optional key/value fields.
func Warn(msg string, fields map[string]any) {
	Get().Warn().Fields(fields).Msg(msg)
}

// Error logs an error message. err may be nil.
func Error(msg string, err error, fields map[string]any) {
	Get().Error().Err(err).Fields(fields).Msg(msg)
}

// Debug logs a debug message with optional key/value fields.
func Debug(msg string, fields map[string]any) {
	Get().Debug().Fields(fields).Msg(msg)
}
