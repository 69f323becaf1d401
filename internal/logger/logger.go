package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"gatewatch/internal/config"
)

// New builds the root logger. Pretty output is for terminals during
// development; production emits JSON on stdout.
func New(cfg config.LogConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "gatewatch").
		Logger()
}
