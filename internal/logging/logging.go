// Package logging configures the zerolog logger shared by the CLI, the
// batch driver and the job server.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Level   string // trace, debug, info, warn, error
	Format  string // auto, console, json
	Writer  io.Writer
	NoColor bool
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT and NO_COLOR.
func FromEnv() Options {
	return Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  os.Getenv("LOG_FORMAT"),
		NoColor: os.Getenv("NO_COLOR") != "",
	}
}

var root = New(FromEnv())

// New builds a logger from opts. An unknown level falls back to info.
func New(opts Options) zerolog.Logger {
	level := ParseLevel(opts.Level)

	var w io.Writer = os.Stderr
	if opts.Writer != nil {
		w = opts.Writer
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "console" || (format != "json" && opts.Writer == nil && isatty()) {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: opts.NoColor}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	return logger
}

// Init replaces the root logger.
func Init(opts Options) {
	root = New(opts)
}

// Default returns the root logger.
func Default() *zerolog.Logger {
	return &root
}

// Named returns a child of the root logger tagged with a component field.
func Named(component string) zerolog.Logger {
	return root.With().Str("component", component).Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
