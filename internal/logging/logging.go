// Package logging provides the process-wide zerolog configuration shared
// by every package in corechat.
package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu   sync.Mutex
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
)

// SetLevel adjusts the global minimum log level.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Level(level)
}

// SetOutput redirects the base logger, e.g. to a file sink chosen by the host.
func SetOutput(w zerolog.LevelWriter) {
	mu.Lock()
	defer mu.Unlock()
	base = base.Output(w)
}

// WithComponent returns a child logger tagged with the given component name,
// the same convention the teacher's internal packages use for per-package
// loggers (e.g. "chat-store", "message-store", "location-engine").
func WithComponent(name string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return base.With().Str("component", name).Logger()
}
