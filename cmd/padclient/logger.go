package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/codepad/padclient/internal/config"
)

// newLogger builds the process logger. Format "auto" picks the console
// writer when w is a terminal and JSON otherwise.
func newLogger(cfg config.LogConfig, override string, w io.Writer) zerolog.Logger {
	levelName := cfg.Level
	if override != "" {
		levelName = override
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	switch cfg.Format {
	case "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case "json":
	default:
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
