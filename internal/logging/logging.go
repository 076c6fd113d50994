package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

const (
	FormatText    = "text"
	FormatConsole = "console"
)

// New creates a slog.Logger with provided level string writing to stdout.
func New(level string) *slog.Logger {
	return NewWithFormat(level, FormatText, os.Stdout)
}

// NewWithFormat picks the handler by format: "console" renders colourised
// lines through charmbracelet/log, anything else uses the slog text handler.
func NewWithFormat(level, format string, w io.Writer) *slog.Logger {
	lvl := levelFromString(level)
	if w == nil {
		w = os.Stdout
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatConsole:
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(lvl),
		})
		return slog.New(handler)
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
