// Package logging configures the zerolog logger shared by the echo server
// and client binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Supported output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// ParseLevel converts a level name into a zerolog.Level, falling back to info
// for anything it does not recognise.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidFormat reports whether format names a supported output format.
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case FormatConsole, FormatJSON, "":
		return true
	}
	return false
}

// New builds a logger writing to w in the requested format. A nil writer
// means stderr.
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	if !ValidFormat(format) {
		return zerolog.Nop(), errors.Errorf("unknown log format %q", format)
	}

	out := w
	if strings.ToLower(format) != FormatJSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger(), nil
}

// Setup builds a logger with New and installs it as the global zerolog logger.
func Setup(level, format string, w io.Writer) (zerolog.Logger, error) {
	logger, err := New(level, format, w)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}
