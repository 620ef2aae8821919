// Package logging configures the global zerolog logger.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Setup points the global logger at w. An empty level means warn.
func Setup(w io.Writer, level string, format string) error {
	parsed := zerolog.WarnLevel
	if strings.TrimSpace(level) != "" {
		var err error
		parsed, err = zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
	}

	var out io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	case FormatJSON:
		out = w
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
