// Package logging holds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.Nop()
)

// Config controls the logger created by Init.
type Config struct {
	Level  string
	Pretty bool      // human-readable console output
	Output io.Writer // defaults to stderr
}

// Init replaces the global logger. Unknown levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(out).Level(level).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
}

// Get returns the global logger. Before Init it discards everything.
func Get() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// With returns a child logger tagged with the given component name.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}
