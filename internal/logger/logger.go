package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type Config struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty" json:"pretty"`
}

// Init installs the global logger and returns it. Pretty output is meant for
// a terminal; otherwise each line is one JSON object. The standard library
// logger is redirected so chi's request log ends up in the same stream.
func Init(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "reedlink").
		Logger()

	zlog.Logger = l
	stdlog.SetFlags(0)
	stdlog.SetOutput(l)
	return l
}
